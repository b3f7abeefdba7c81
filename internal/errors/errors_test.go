package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestServiceErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("insert item: %w", Duplicate("name", "X"))

	if !stderrors.Is(err, &ServiceError{Code: CodeDuplicate}) {
		t.Fatalf("expected wrapped duplicate to match by code")
	}
	if stderrors.Is(err, &ServiceError{Code: CodeConflict}) {
		t.Fatalf("duplicate should not match conflict")
	}

	se := GetServiceError(err)
	if se == nil {
		t.Fatalf("GetServiceError returned nil")
	}
	if se.HTTPStatus != http.StatusConflict {
		t.Errorf("status = %d, want 409", se.HTTPStatus)
	}
	if se.Details["field"] != "name" || se.Details["value"] != "X" {
		t.Errorf("unexpected details %v", se.Details)
	}
}

func TestWithDetailsCopies(t *testing.T) {
	base := InvalidQuery("bad page")
	withPage := base.WithDetails("page", 0)

	if _, ok := base.Details["page"]; ok {
		t.Fatalf("WithDetails mutated the receiver")
	}
	if withPage.Details["page"] != 0 {
		t.Fatalf("detail missing on copy")
	}
}

func TestInternalUnwraps(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Internal("select rows", cause)

	if !stderrors.Is(err, cause) {
		t.Fatalf("expected Internal to unwrap to cause")
	}
	if got := err.Error(); got != "INTERNAL_ERROR: select rows: connection reset" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsAuthorization(t *testing.T) {
	if !IsAuthorization(Unauthorized("")) || !IsAuthorization(Forbidden("")) {
		t.Fatalf("expected unauthorized and forbidden to be authorization errors")
	}
	if IsAuthorization(Validation("id", "required")) {
		t.Fatalf("validation is not an authorization error")
	}
	if IsAuthorization(stderrors.New("plain")) {
		t.Fatalf("plain error is not an authorization error")
	}
}
