package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/R3E-Network/cloudless/internal/errors"
	"github.com/R3E-Network/cloudless/internal/logging"
)

// Evidence headers.
const (
	AuthorizationHeader = "Authorization"
	ServiceTokenHeader  = "X-Service-Token"
	UserIDHeader        = "X-User-ID"
	TraceIDHeader       = "X-Trace-ID"
)

const (
	maxErrorBody    = 64 << 10
	maxResponseBody = 8 << 20
)

// TokenSource returns a fresh service token for each request.
type TokenSource func() (string, error)

// ClientConfig configures a Client. At most one of ServiceToken and
// SessionToken should be set; a server treats both as ambiguous.
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	ServiceToken TokenSource
	SessionToken string
}

// Client calls methods exposed by a remote boundary. Service tokens are
// attached automatically and the user id on the context is forwarded.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	maxRetries   int
	serviceToken TokenSource
	sessionToken string
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:   maxRetries,
		serviceToken: cfg.ServiceToken,
		sessionToken: cfg.SessionToken,
	}
}

// Invoke calls "service.method" with params and decodes the result into out.
// Failures are returned as *errors.ServiceError when the server sent one.
func (c *Client) Invoke(ctx context.Context, method string, params, out any) error {
	service, name, ok := strings.Cut(method, ".")
	if !ok || service == "" || name == "" {
		return errors.Validation("method", fmt.Sprintf("malformed method name %q", method))
	}
	if params == nil {
		params = struct{}{}
	}
	resp, err := c.Do(ctx, http.MethodPost, "/api/"+url.PathEscape(service)+"/"+url.PathEscape(name), params)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, out)
}

// Do executes an HTTP request with the configured credentials.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	return c.doWithRetry(ctx, method, path, body, 0)
}

// doWithRetry retries authorization failures; a service token source may
// return a fresh token on the next attempt.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body any, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if traceID := logging.GetTraceID(ctx); traceID != "" {
		req.Header.Set(TraceIDHeader, traceID)
	}

	switch {
	case c.serviceToken != nil:
		token, tokenErr := c.serviceToken()
		if tokenErr != nil {
			return nil, fmt.Errorf("failed to generate service token: %w", tokenErr)
		}
		req.Header.Set(ServiceTokenHeader, token)
		if userID := logging.GetUserID(ctx); userID != "" {
			req.Header.Set(UserIDHeader, userID)
		}
	case c.sessionToken != "":
		req.Header.Set(AuthorizationHeader, "Bearer "+c.sessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	retryable := resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
	if retryable && c.serviceToken != nil && attempt < c.maxRetries {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return c.doWithRetry(ctx, method, path, body, attempt+1)
	}
	return resp, nil
}

// DecodeResponse decodes a JSON response into target. Error responses are
// converted back into *errors.ServiceError.
func DecodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		var er ErrorResponse
		if json.Unmarshal(body, &er) == nil && er.Code != "" {
			return &errors.ServiceError{
				Code:       errors.ErrorCode(er.Code),
				Message:    er.Message,
				HTTPStatus: resp.StatusCode,
				Details:    er.Details,
			}
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if target == nil {
		_, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(body) > maxResponseBody {
		return fmt.Errorf("response body exceeds %d bytes", maxResponseBody)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
