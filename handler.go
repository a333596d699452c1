package menuguard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zinacoffee/menuguard/security"
)

const (
	// CSRFTokenHeader carries the CSRF token on identity-authorized mutations
	CSRFTokenHeader = "X-CSRF-Token"

	tokenTypeBearer = "Bearer"
)

// errorResponse is the JSON body of every error
type errorResponse struct {
	Error            string   `json:"error"`
	ErrorDescription string   `json:"error_description"`
	RetryAfter       int      `json:"retry_after,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

type touchSessionRequest struct {
	SessionID string `json:"sessionId"`
	Activity  bool   `json:"activity"`
}

type restoreRequest struct {
	MasterKey string `json:"masterKey"`
}

// Handler is a thin HTTP adapter for the Server.
// It decodes requests, resolves the caller and delegates to the Server.
type Handler struct {
	server   *Server
	logger   *slog.Logger
	throttle *security.Throttle
	ipConfig security.ClientIPConfig
}

// NewHandler creates a new HTTP handler. Call Close to stop the throttle.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := server.Config
	h := &Handler{
		server: server,
		logger: logger,
		ipConfig: security.ClientIPConfig{
			TrustProxy:        cfg.Security.TrustProxy,
			TrustedProxyCount: cfg.Security.TrustedProxyCount,
		},
	}

	if cfg.RateLimit.ThrottleRate > 0 {
		h.throttle = security.NewThrottle(security.ThrottleConfig{
			RequestsPerSecond: cfg.RateLimit.ThrottleRate,
			Burst:             cfg.RateLimit.ThrottleBurst,
			MaxEntries:        cfg.RateLimit.ThrottleMaxEntries,
			Logger:            logger,
		})
	}

	return h
}

// Close releases the background resources of the handler
func (h *Handler) Close() {
	if h.throttle != nil {
		h.throttle.Stop()
	}
}

// Routes returns the complete HTTP handler with middleware applied
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/sign-in", h.ServeSignIn)
	mux.HandleFunc("POST /api/auth/sign-out", h.ServeSignOut)
	mux.HandleFunc("POST /api/session/touch", h.ServeSessionTouch)
	mux.HandleFunc("POST /api/csrf", h.ServeCSRFToken)
	mux.HandleFunc("GET /api/menu", h.ServeMenu)
	mux.HandleFunc("POST /api/menu", h.ServeMenuMutation)
	mux.HandleFunc("GET /api/audit", h.ServeAuditLog)
	mux.HandleFunc("POST /api/admin/restore", h.ServeRestore)
	mux.HandleFunc("GET /healthz", h.ServeHealth)

	if h.server.Instrumentation != nil {
		mux.Handle("GET /metrics", h.server.Instrumentation.MetricsHandler())
	}

	var next http.Handler = mux
	next = h.limitMiddleware(next)
	next = h.metricsMiddleware(next)
	next = security.SecurityHeadersMiddleware(h.server.Config.Security.EnableHSTS, next)
	next = security.RequestIDMiddleware(next)
	return next
}

// limitMiddleware sheds floods with the per-IP throttle, then counts API
// requests against the API_CALLS sliding window
func (h *Handler) limitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := security.GetClientIP(r, h.ipConfig)

		if h.throttle != nil && !h.throttle.Allow(clientIP) {
			h.logger.Warn("Request throttled", "ip", clientIP, "path", r.URL.Path)
			if h.server.Instrumentation != nil {
				h.server.Instrumentation.Metrics().RecordThrottleRejected(r.Context(), r.URL.Path)
			}
			h.writeError(w, r, ErrResourceExhausted("too many requests", 1))
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") {
			if err := h.server.CheckAPIRate(r.Context(), clientIP); err != nil {
				h.writeError(w, r, err)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	if h.server.Instrumentation == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		h.server.Instrumentation.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, rec.status,
			float64(time.Since(start).Microseconds())/1000)
	})
}

// ServeSignIn handles POST /api/auth/sign-in
func (h *Handler) ServeSignIn(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}
	result, err := h.server.BeforeSignIn(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ServeSignOut handles POST /api/auth/sign-out
func (h *Handler) ServeSignOut(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}
	result, err := h.server.SignOut(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ServeSessionTouch handles POST /api/session/touch
func (h *Handler) ServeSessionTouch(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}
	var req touchSessionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	status, err := h.server.TouchSession(r.Context(), caller, req.SessionID, req.Activity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// ServeCSRFToken handles POST /api/csrf
func (h *Handler) ServeCSRFToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}
	token, err := h.server.IssueCSRFToken(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusOK, token)
}

// ServeMenu handles GET /api/menu
func (h *Handler) ServeMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.server.ListMenu(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ServeMenuMutation handles POST /api/menu.
// Administrators authorized by identity must send a CSRF token in
// X-CSRF-Token; requests authorized by the master passphrase need none.
func (h *Handler) ServeMenuMutation(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}
	var req MenuRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if h.server.IsAuthorized(caller.Identity) &&
		(req.MasterKey == "" || !h.server.IsMasterPassphrase(req.MasterKey)) {
		if err := h.server.VerifyCSRFToken(r.Context(), caller, r.Header.Get(CSRFTokenHeader)); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	result, err := h.server.MutateMenuItem(r.Context(), caller, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ServeAuditLog handles GET /api/audit?limit=&cursor=
func (h *Handler) ServeAuditLog(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, ErrInvalidArgument("limit must be an integer"))
			return
		}
		limit = n
	}

	page, err := h.server.FetchAuditLog(r.Context(), caller, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// ServeRestore handles POST /api/admin/restore
func (h *Handler) ServeRestore(w http.ResponseWriter, r *http.Request) {
	caller := h.anonymousCaller(r)
	var req restoreRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	result, err := h.server.RestoreDefaults(r.Context(), caller, req.MasterKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ServeHealth handles GET /healthz
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) anonymousCaller(r *http.Request) Caller {
	return Caller{
		IPAddress: security.GetClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	}
}

// resolveCaller builds the caller of r. A present but invalid bearer token is
// rejected here; a missing one leaves the caller anonymous.
func (h *Handler) resolveCaller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	caller := h.anonymousCaller(r)

	bearer, err := extractBearerToken(r)
	if err != nil {
		h.writeError(w, r, ErrUnauthenticated(err.Error()))
		return caller, false
	}

	id, err := h.server.Authenticate(r.Context(), bearer)
	if err != nil {
		h.logger.Warn("Token validation failed", "ip", caller.IPAddress, "error", err)
		h.writeError(w, r, err)
		return caller, false
	}
	caller.Identity = id
	return caller, true
}

// extractBearerToken returns the Bearer token of the Authorization header,
// or "" when the header is absent
func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, h.server.Config.HTTP.MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, ErrInvalidArgument(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)))
			return false
		}
		h.writeError(w, r, ErrInvalidArgument("request body must be valid JSON"))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", "error", err)
	}
}

// writeError maps err to its HTTP status and JSON body. Internal causes are
// logged and never written to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = ErrInternal(err)
	}

	if e.Kind == KindInternal {
		h.logger.Error("Request failed",
			"path", r.URL.Path,
			"request_id", security.GetRequestID(r.Context()),
			"error", err)
	}

	status := e.Kind.HTTPStatus()
	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}

	h.writeJSON(w, status, errorResponse{
		Error:            e.Kind.String(),
		ErrorDescription: e.Message,
		RetryAfter:       e.RetryAfter,
		Errors:           e.Details,
	})
}

// HTTPServer builds an http.Server for the handler with the configured
// timeouts
func (h *Handler) HTTPServer() *http.Server {
	cfg := h.server.Config.HTTP
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(h.logger.Handler(), slog.LevelWarn),
	}
}
