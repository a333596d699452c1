package menuguard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zinacoffee/menuguard/instrumentation"
	"github.com/zinacoffee/menuguard/security"
	"github.com/zinacoffee/menuguard/storage"
	"github.com/zinacoffee/menuguard/storage/memory"
	"github.com/zinacoffee/menuguard/storage/mock"
)

// newTestHandler wires a handler on top of newTestEnv and returns its routes
func newTestHandler(t *testing.T, mutate func(*Config), wrap func(*memory.Store) Stores, opts ...ServerOption) (*testEnv, http.Handler) {
	t.Helper()
	env := newTestEnv(t, mutate, wrap, opts...)
	h := NewHandler(env.server, discardLogger())
	t.Cleanup(h.Close)
	return env, h.Routes()
}

func doRequest(t *testing.T, routes http.Handler, method, path, bearer, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	routes.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return resp
}

func issueToken(t *testing.T, routes http.Handler) string {
	t.Helper()
	rr := doRequest(t, routes, http.MethodPost, "/api/csrf", adminToken, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /api/csrf status = %d, body %s", rr.Code, rr.Body.String())
	}
	var token security.Token
	if err := json.NewDecoder(rr.Body).Decode(&token); err != nil {
		t.Fatal(err)
	}
	return token.Value
}

const createBody = `{"action":"create","itemData":{"name":"Espresso","price":2.5,"category":"café","description":"Strong coffee"}}`

func TestHandler_Health(t *testing.T) {
	_, routes := newTestHandler(t, nil, nil)

	rr := doRequest(t, routes, http.MethodGet, "/healthz", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
	if rr.Header().Get(security.RequestIDHeader) == "" {
		t.Error("response has no request ID")
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q without HSTS enabled", got)
	}
}

func TestHandler_ListMenu(t *testing.T) {
	env, routes := newTestHandler(t, nil, nil)
	if _, err := env.server.RestoreDefaults(context.Background(), anonymousCaller(), testPassphrase); err != nil {
		t.Fatal(err)
	}

	rr := doRequest(t, routes, http.MethodGet, "/api/menu", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		Items []MenuItemView `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 21 {
		t.Errorf("items = %d, want 21", len(body.Items))
	}
}

func TestHandler_Authentication(t *testing.T) {
	_, routes := newTestHandler(t, nil, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"unknown token", "Bearer forged"},
		{"wrong scheme", "Basic YWRtaW46YWRtaW4="},
		{"empty bearer", "Bearer   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, routes, http.MethodPost, "/api/csrf", "", "", map[string]string{"Authorization": tt.header})
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
			}
			if got := rr.Header().Get("WWW-Authenticate"); got != "Bearer" {
				t.Errorf("WWW-Authenticate = %q, want Bearer", got)
			}
			if resp := decodeError(t, rr); resp.Error != ErrorCodeUnauthenticated {
				t.Errorf("error = %q, want %q", resp.Error, ErrorCodeUnauthenticated)
			}
		})
	}

	t.Run("no credentials", func(t *testing.T) {
		rr := doRequest(t, routes, http.MethodPost, "/api/csrf", "", "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
		}
	})
}

func TestHandler_CSRFToken(t *testing.T) {
	_, routes := newTestHandler(t, nil, nil)

	rr := doRequest(t, routes, http.MethodPost, "/api/csrf", adminToken, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if !strings.Contains(rr.Body.String(), `"csrfToken"`) || !strings.Contains(rr.Body.String(), `"expiresIn":3600`) {
		t.Errorf("body = %s", rr.Body.String())
	}

	rr = doRequest(t, routes, http.MethodPost, "/api/csrf", intruderToken, "", nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("intruder status = %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestHandler_MenuMutation_CSRF(t *testing.T) {
	env, routes := newTestHandler(t, nil, nil)

	rr := doRequest(t, routes, http.MethodPost, "/api/menu", adminToken, createBody, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("without CSRF token status = %d, want %d", rr.Code, http.StatusForbidden)
	}
	if ev := env.lastAudit(t); ev.Action != security.EventCSRFVerificationFailed {
		t.Errorf("audit action = %s, want %s", ev.Action, security.EventCSRFVerificationFailed)
	}

	token := issueToken(t, routes)
	rr = doRequest(t, routes, http.MethodPost, "/api/menu", adminToken, createBody, map[string]string{CSRFTokenHeader: token})
	if rr.Code != http.StatusOK {
		t.Fatalf("with CSRF token status = %d, body %s", rr.Code, rr.Body.String())
	}

	var result MenuResult
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.ItemID == "" {
		t.Errorf("result = %+v", result)
	}
}

func TestHandler_MenuMutation_MasterKey(t *testing.T) {
	_, routes := newTestHandler(t, nil, nil)

	body := `{"action":"create","masterKey":"` + testPassphrase + `","itemData":{"name":"Thé vert","price":2,"category":"thé","description":"Menthe fraîche"}}`

	rr := doRequest(t, routes, http.MethodPost, "/api/menu", "", body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("anonymous with master key status = %d, body %s", rr.Code, rr.Body.String())
	}

	// A valid master key also spares an administrator the CSRF token
	rr = doRequest(t, routes, http.MethodPost, "/api/menu", adminToken, body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin with master key status = %d, body %s", rr.Code, rr.Body.String())
	}

	// but a wrong one does not
	wrong := strings.Replace(body, testPassphrase, "16122010", 1)
	rr = doRequest(t, routes, http.MethodPost, "/api/menu", adminToken, wrong, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("admin with wrong master key status = %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestHandler_MenuMutation_ValidationErrors(t *testing.T) {
	_, routes := newTestHandler(t, nil, nil)
	token := issueToken(t, routes)

	body := `{"action":"create","itemData":{"name":"E","price":-1,"category":"soda","description":""}}`
	rr := doRequest(t, routes, http.MethodPost, "/api/menu", adminToken, body, map[string]string{CSRFTokenHeader: token})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	resp := decodeError(t, rr)
	if resp.Error != ErrorCodeInvalidRequest {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidRequest)
	}
	if len(resp.Errors) != 4 {
		t.Errorf("errors = %v, want 4 entries", resp.Errors)
	}
}

func TestHandler_MenuMutation_InternalErrorIsMasked(t *testing.T) {
	_, routes := newTestHandler(t, nil, func(store *memory.Store) Stores {
		menu := mock.NewMockMenuStore(store)
		menu.CreateFunc = func(context.Context, *storage.MenuItem) error {
			return errors.New("dial tcp 10.0.0.7:6379: connection refused")
		}
		return Stores{RateLimits: store, Audit: store, Menu: menu, Sessions: store}
	})
	token := issueToken(t, routes)

	rr := doRequest(t, routes, http.MethodPost, "/api/menu", adminToken, createBody, map[string]string{CSRFTokenHeader: token})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rr.Body.String(), "10.0.0.7") {
		t.Errorf("body leaks the store error: %s", rr.Body.String())
	}
	if resp := decodeError(t, rr); resp.Error != ErrorCodeServerError {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeServerError)
	}
}

func TestHandler_SignInRateLimited(t *testing.T) {
	_, routes := newTestHandler(t, nil, nil)

	for i := range 5 {
		rr := doRequest(t, routes, http.MethodPost, "/api/auth/sign-in", intruderToken, "", nil)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("attempt %d status = %d, want %d", i+1, rr.Code, http.StatusForbidden)
		}
	}

	rr := doRequest(t, routes, http.MethodPost, "/api/auth/sign-in", adminToken, "", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if got := rr.Header().Get("Retry-After"); got != "3600" {
		t.Errorf("Retry-After = %q, want 3600", got)
	}
	if resp := decodeError(t, rr); resp.RetryAfter != 3600 {
		t.Errorf("retry_after = %d, want 3600", resp.RetryAfter)
	}
}

func TestHandler_SessionLifecycle(t *testing.T) {
	env, routes := newTestHandler(t, nil, nil)

	rr := doRequest(t, routes, http.MethodPost, "/api/auth/sign-in", adminToken, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sign-in status = %d, body %s", rr.Code, rr.Body.String())
	}
	var signIn SignInResult
	if err := json.NewDecoder(rr.Body).Decode(&signIn); err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(27 * time.Minute)
	rr = doRequest(t, routes, http.MethodPost, "/api/session/touch", adminToken,
		`{"sessionId":"`+signIn.SessionID+`","activity":false}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("touch status = %d, body %s", rr.Code, rr.Body.String())
	}
	var status SessionStatus
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.Warning || status.RemainingSeconds != 180 {
		t.Errorf("status = %+v, want warning with 180s left", status)
	}

	rr = doRequest(t, routes, http.MethodPost, "/api/auth/sign-out", adminToken, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sign-out status = %d", rr.Code)
	}

	rr = doRequest(t, routes, http.MethodPost, "/api/session/touch", adminToken,
		`{"sessionId":"`+signIn.SessionID+`","activity":true}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("touch after sign-out status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestHandler_AuditLog(t *testing.T) {
	_, routes := newTestHandler(t, nil, nil)

	tests := []struct {
		name       string
		bearer     string
		query      string
		wantStatus int
	}{
		{"administrator", adminToken, "?limit=10", http.StatusOK},
		{"non-numeric limit", adminToken, "?limit=ten", http.StatusBadRequest},
		{"unknown cursor", adminToken, "?cursor=nope", http.StatusBadRequest},
		{"intruder", intruderToken, "", http.StatusForbidden},
		{"anonymous", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, routes, http.MethodGet, "/api/audit"+tt.query, tt.bearer, "", nil)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}

func TestHandler_Restore(t *testing.T) {
	_, routes := newTestHandler(t, nil, nil)

	rr := doRequest(t, routes, http.MethodPost, "/api/admin/restore", "", `{"masterKey":"guess"}`, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d, want %d", rr.Code, http.StatusForbidden)
	}

	rr = doRequest(t, routes, http.MethodPost, "/api/admin/restore", "", `{"masterKey":"`+testPassphrase+`"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"count":21`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestHandler_RequestBody(t *testing.T) {
	_, routes := newTestHandler(t, func(c *Config) { c.HTTP.MaxBodyBytes = 64 }, nil)

	tests := []struct {
		name     string
		body     string
		wantDesc string
	}{
		{"too large", `{"masterKey":"` + strings.Repeat("a", 200) + `"}`, "exceeds 64 bytes"},
		{"malformed", `{"masterKey":`, "valid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, routes, http.MethodPost, "/api/admin/restore", "", tt.body, nil)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
			if resp := decodeError(t, rr); !strings.Contains(resp.ErrorDescription, tt.wantDesc) {
				t.Errorf("error_description = %q, want it to contain %q", resp.ErrorDescription, tt.wantDesc)
			}
		})
	}
}

func TestHandler_Throttle(t *testing.T) {
	_, routes := newTestHandler(t, func(c *Config) {
		c.RateLimit.ThrottleRate = 1
		c.RateLimit.ThrottleBurst = 1
	}, nil)

	if rr := doRequest(t, routes, http.MethodGet, "/healthz", "", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}

	rr := doRequest(t, routes, http.MethodGet, "/healthz", "", "", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if got := rr.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestHandler_APICallsLimit(t *testing.T) {
	_, routes := newTestHandler(t, func(c *Config) {
		c.RateLimit.ThrottleRate = -1
		c.RateLimit.APICalls = LimitConfig{MaxAttempts: 2, Window: time.Minute}
	}, nil)

	for i := range 2 {
		if rr := doRequest(t, routes, http.MethodGet, "/api/menu", "", "", nil); rr.Code != http.StatusOK {
			t.Fatalf("call %d status = %d", i+1, rr.Code)
		}
	}

	rr := doRequest(t, routes, http.MethodGet, "/api/menu", "", "", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}

	// health checks are outside the API budget
	if rr := doRequest(t, routes, http.MethodGet, "/healthz", "", "", nil); rr.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestHandler_Metrics(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:         true,
		MetricsExporter: instrumentation.MetricsExporterPrometheus,
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	_, routes := newTestHandler(t, nil, nil, WithServerInstrumentation(inst))

	doRequest(t, routes, http.MethodGet, "/api/menu", "", "", nil)

	rr := doRequest(t, routes, http.MethodGet, "/metrics", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "menuguard_http_requests") {
		t.Error("metrics do not include the HTTP request counter")
	}
	if !strings.Contains(body, "menuguard_ratelimit") {
		t.Error("metrics do not include the rate limit counters")
	}
}

func TestHandler_MetricsRouteRequiresInstrumentation(t *testing.T) {
	_, routes := newTestHandler(t, nil, nil)

	rr := doRequest(t, routes, http.MethodGet, "/metrics", "", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"Bearer  abc ", "abc", false},
		{"Basic abc", "", true},
		{"Bearer", "", true},
		{"Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := extractBearerToken(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("extractBearerToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("extractBearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
