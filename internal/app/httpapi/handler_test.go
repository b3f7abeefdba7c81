package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/cloudless/internal/app/auth"
	"github.com/R3E-Network/cloudless/internal/app/core/service"
	"github.com/R3E-Network/cloudless/internal/errors"
	"github.com/R3E-Network/cloudless/internal/httputil"
	"github.com/R3E-Network/cloudless/internal/logging"
)

type fixture struct {
	handler  http.Handler
	resolver *auth.Resolver
	audit    *AuditLog
	session  string
	service  string
}

type greeting struct {
	Name string `json:"name"`
}

func newFixture(t *testing.T, checks map[string]HealthCheck) *fixture {
	t.Helper()
	resolver := auth.NewResolver(auth.Config{
		SessionSecret:   []byte("session-secret-for-tests-000000"),
		ServiceSecret:   []byte("service-secret-for-tests-000000"),
		AllowedServices: []string{"scheduler"},
		Logger:          logging.NewNop(),
	})
	audit := NewAuditLog(10, nil)
	reg := service.NewRegistry(service.Options{Observers: []service.Observer{audit}})
	require.NoError(t, reg.RegisterService(service.ServiceInfo{Name: "demo", Description: "demo service"}))

	reg.MustRegister(service.Descriptor{Service: "demo", Name: "hello", Tier: service.Public, Status: service.StatusComplete},
		service.Typed(func(ctx context.Context, in greeting) (map[string]string, error) {
			return map[string]string{"greeting": "hello " + in.Name}, nil
		}))
	reg.MustRegister(service.Descriptor{Service: "demo", Name: "whoami", Tier: service.Controlled, Status: service.StatusComplete},
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			p := auth.FromContext(ctx)
			return map[string]string{"user": p.UserID, "trust": p.Trust.String()}, nil
		})
	reg.MustRegister(service.Descriptor{Service: "demo", Name: "ops", Tier: service.Protected, Status: service.StatusComplete},
		func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	reg.MustRegister(service.Descriptor{Service: "demo", Name: "later", Tier: service.Public, Status: service.StatusDraft},
		func(context.Context, json.RawMessage) (any, error) { return "ran", nil })
	reg.MustRegister(service.Descriptor{Service: "demo", Name: "dup", Tier: service.Public, Status: service.StatusComplete},
		func(context.Context, json.RawMessage) (any, error) { return nil, errors.Duplicate("name", "X") })
	reg.Freeze()

	session, err := resolver.IssueSession("user-1", "", time.Minute)
	require.NoError(t, err)
	svc, err := resolver.IssueService("scheduler", time.Minute)
	require.NoError(t, err)

	return &fixture{
		handler: NewHandler(Options{
			Registry:     reg,
			Resolver:     resolver,
			Logger:       logging.NewNop(),
			Audit:        audit,
			Checks:       checks,
			MaxBodyBytes: 256,
		}),
		resolver: resolver,
		audit:    audit,
		session:  session,
		service:  svc,
	}
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, r)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Code
}

func TestInvokePublicMethod(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(http.MethodPost, "/api/demo/hello", `{"name":"ada"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"greeting":"hello ada"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(httputil.TraceIDHeader))
}

func TestInvokeAppliesTiers(t *testing.T) {
	f := newFixture(t, nil)
	bearer := map[string]string{"Authorization": "Bearer " + f.session}
	system := map[string]string{httputil.ServiceTokenHeader: f.service}

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
		code    string
	}{
		{"controlled anonymous", "/api/demo/whoami", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"controlled session", "/api/demo/whoami", bearer, http.StatusOK, ""},
		{"controlled system", "/api/demo/whoami", system, http.StatusOK, ""},
		{"protected session", "/api/demo/ops", bearer, http.StatusForbidden, "FORBIDDEN"},
		{"protected anonymous", "/api/demo/ops", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"protected system", "/api/demo/ops", system, http.StatusOK, ""},
		{"ambiguous evidence", "/api/demo/whoami", map[string]string{"Authorization": "Bearer " + f.session, httputil.ServiceTokenHeader: f.service}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"draft", "/api/demo/later", nil, http.StatusNotImplemented, "NOT_IMPLEMENTED"},
		{"unknown method", "/api/demo/missing", system, http.StatusNotFound, "NOT_FOUND"},
		{"handler error", "/api/demo/dup", nil, http.StatusConflict, "DUPLICATE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(http.MethodPost, tc.path, `{}`, tc.headers)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			if tc.code != "" {
				assert.Equal(t, tc.code, errorCode(t, rr))
			}
		})
	}

	rr := f.do(http.MethodPost, "/api/demo/whoami", "", bearer)
	assert.JSONEq(t, `{"user":"user-1","trust":"session"}`, rr.Body.String())
}

func TestInvokeRejectsBadBodies(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodPost, "/api/demo/hello", `{"name":`+strings.Repeat(`"x"`, 200)+`}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rr))

	rr = f.do(http.MethodPost, "/api/demo/hello", `{"name":5}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, "/api/demo/hello", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = f.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDescribeAndListServices(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodGet, "/api", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var services []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &services))
	require.Len(t, services, 1)
	assert.Equal(t, "demo", services[0]["name"])
	assert.Equal(t, float64(5), services[0]["methods"])

	rr = f.do(http.MethodGet, "/api/demo", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var described struct {
		Name       string               `json:"name"`
		AllowDraft bool                 `json:"allow_draft"`
		Methods    []service.Descriptor `json:"methods"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &described))
	assert.Equal(t, "demo", described.Name)
	assert.False(t, described.AllowDraft)
	require.Len(t, described.Methods, 5)
	statuses := map[string]service.Status{}
	for _, d := range described.Methods {
		statuses[d.Name] = d.Status
	}
	assert.Equal(t, service.StatusDraft, statuses["later"])

	rr = f.do(http.MethodGet, "/api/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAuditEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodPost, "/api/demo/hello", `{}`, nil)
	f.do(http.MethodPost, "/api/demo/whoami", `{}`, nil)

	rr := f.do(http.MethodGet, "/admin/audit", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = f.do(http.MethodGet, "/admin/audit", "", map[string]string{"Authorization": "Bearer " + f.session})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(http.MethodGet, "/admin/audit?limit=5", "", map[string]string{httputil.ServiceTokenHeader: f.service})
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []AuditEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "demo.hello", entries[0].Method)
	assert.Equal(t, "succeeded", entries[0].State)
	assert.Equal(t, "demo.whoami", entries[1].Method)
	assert.Equal(t, "rejected", entries[1].State)
	assert.Equal(t, "UNAUTHORIZED", entries[1].Code)
	assert.NotEmpty(t, entries[1].TraceID)
}

func TestAuditLogRing(t *testing.T) {
	var buf bytes.Buffer
	l := NewAuditLog(3, sinkFunc(func(e AuditEntry) error {
		_, err := fmt.Fprintln(&buf, e.Method)
		return err
	}))
	d := service.Descriptor{Service: "demo", Name: "m"}
	for i := 0; i < 5; i++ {
		d.Name = fmt.Sprintf("m%d", i)
		l.Observe(context.Background(), service.Transition{Method: d, From: service.Executing, To: service.Succeeded})
		l.Observe(context.Background(), service.Transition{Method: d, From: service.Idle, To: service.AuthorizationPending})
	}
	entries := l.List(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "demo.m2", entries[0].Method)
	assert.Len(t, l.List(1), 1)
	assert.Equal(t, 5, strings.Count(buf.String(), "\n"))
}

type sinkFunc func(AuditEntry) error

func (f sinkFunc) Write(e AuditEntry) error { return f(e) }

func TestHealth(t *testing.T) {
	f := newFixture(t, map[string]HealthCheck{"storage": func(context.Context) error { return nil }})
	rr := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"storage":"ok"}}`, rr.Body.String())

	f = newFixture(t, map[string]HealthCheck{"redis": func(context.Context) error { return fmt.Errorf("down") }})
	rr = f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"redis":"unavailable"}}`, rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodPost, "/api/demo/hello", `{}`, nil)
	rr := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "cloudless_http_requests_total")
}

func TestClientAgainstServer(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	client := httputil.NewClient(httputil.ClientConfig{
		BaseURL: srv.URL,
		ServiceToken: func() (string, error) {
			return f.resolver.IssueService("scheduler", time.Minute)
		},
	})

	var out map[string]string
	require.NoError(t, client.Invoke(context.Background(), "demo.whoami", nil, &out))
	assert.Equal(t, "system", out["trust"])

	err := client.Invoke(context.Background(), "demo.dup", nil, nil)
	assert.True(t, errors.HasCode(err, errors.CodeDuplicate), "got %v", err)

	anon := httputil.NewClient(httputil.ClientConfig{BaseURL: srv.URL})
	err = anon.Invoke(context.Background(), "demo.ops", nil, nil)
	assert.True(t, errors.HasCode(err, errors.CodeUnauthorized), "got %v", err)
}
