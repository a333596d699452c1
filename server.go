package menuguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"

	"github.com/zinacoffee/menuguard/identity"
	"github.com/zinacoffee/menuguard/instrumentation"
	"github.com/zinacoffee/menuguard/ratelimit"
	"github.com/zinacoffee/menuguard/sanitize"
	"github.com/zinacoffee/menuguard/security"
	"github.com/zinacoffee/menuguard/storage"
	"github.com/zinacoffee/menuguard/validation"
)

// Stores groups the store backends used by the Server. A single backend
// usually implements all of them.
type Stores struct {
	RateLimits storage.RateLimitStore
	Audit      storage.AuditStore
	Menu       storage.MenuStore
	Sessions   storage.SessionStore
}

// Server implements the security orchestration of the menu service.
// It is safe for concurrent use.
type Server struct {
	// Config is the effective configuration with defaults applied. Read only.
	Config *Config

	// Instrumentation provides metrics and tracing (optional)
	Instrumentation *instrumentation.Instrumentation

	// Identity verifies bearer tokens
	Identity identity.Provider

	// Limiter enforces the sliding-window limits
	Limiter *ratelimit.Limiter

	// Tokens issues and verifies CSRF tokens
	Tokens *security.TokenService

	// Auditor writes the audit trail
	Auditor *security.Auditor

	stores Stores
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// ServerOption configures a Server
type ServerOption func(*serverOptions)

type serverOptions struct {
	now  func() time.Time
	inst *instrumentation.Instrumentation
}

// WithServerClock sets the time source shared by the limiter, the CSRF
// service, the auditor and the session checks
func WithServerClock(now func() time.Time) ServerOption {
	return func(o *serverOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithServerInstrumentation enables metrics and tracing
func WithServerInstrumentation(inst *instrumentation.Instrumentation) ServerOption {
	return func(o *serverOptions) {
		o.inst = inst
	}
}

// NewServer creates the orchestrator. cfg is copied; later changes to it have
// no effect.
func NewServer(cfg Config, stores Stores, provider identity.Provider, opts ...ServerOption) (*Server, error) {
	if stores.RateLimits == nil {
		return nil, fmt.Errorf("rate limit store is required")
	}
	if stores.Audit == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	if stores.Menu == nil {
		return nil, fmt.Errorf("menu store is required")
	}
	if stores.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}

	o := &serverOptions{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Security.MasterPassphrase != "" {
		hash, err := HashMasterPassphrase(cfg.Security.MasterPassphrase)
		if err != nil {
			return nil, err
		}
		cfg.Security.MasterPassphraseHash = hash
		cfg.Security.MasterPassphrase = ""
	}

	config := applySecureDefaults(cfg, logger)
	config.Logger = logger
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	limiter, err := ratelimit.New(stores.RateLimits,
		ratelimit.WithLimits(config.Limits()),
		ratelimit.WithClock(o.now),
		ratelimit.WithLogger(logger),
		ratelimit.WithInstrumentation(o.inst),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	tokens, err := security.NewTokenService(config.Security.CSRFSecret, security.WithTokenClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("failed to create CSRF token service: %w", err)
	}

	auditor := security.NewAuditor(stores.Audit, logger,
		security.WithAuditClock(o.now),
		security.WithAuditInstrumentation(o.inst),
	)

	s := &Server{
		Config:          config,
		Instrumentation: o.inst,
		Identity:        provider,
		Limiter:         limiter,
		Tokens:          tokens,
		Auditor:         auditor,
		stores:          stores,
		logger:          logger,
		now:             o.now,
	}
	if o.inst != nil {
		s.tracer = o.inst.Tracer("server")
	} else {
		s.tracer = tracenoop.NewTracerProvider().Tracer("")
	}

	return s, nil
}

// Authenticate resolves a bearer token to an identity. An empty token yields
// a nil identity and no error.
func (s *Server) Authenticate(ctx context.Context, bearer string) (*identity.Identity, error) {
	if bearer == "" {
		return nil, nil
	}
	id, err := s.Identity.Verify(ctx, bearer)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return nil, ErrUnauthenticated("invalid or expired token").withCause(err)
		}
		s.logger.Error("Identity provider failed", "error", err)
		return nil, ErrInternal(err)
	}
	return id, nil
}

// IsAuthorized reports whether id is an authenticated administrator on the
// allow-list
func (s *Server) IsAuthorized(id *identity.Identity) bool {
	return id != nil && s.Config.IsAuthorizedEmail(id.Email)
}

// IsMasterPassphrase reports whether passphrase matches the configured master
// passphrase. It is always false when none is configured.
func (s *Server) IsMasterPassphrase(passphrase string) bool {
	hash := s.Config.Security.MasterPassphraseHash
	if passphrase == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)) == nil
}

// CheckAPIRate counts one API call against the API_CALLS limit of ip
func (s *Server) CheckAPIRate(ctx context.Context, ip string) error {
	decision, err := s.Limiter.Check(ctx, ip, ratelimit.APICalls)
	if err != nil {
		s.logger.Error("API rate limit check failed", "error", err)
		return ErrInternal(err)
	}
	if !decision.Allowed {
		s.logger.Warn("API rate limit exceeded", "ip", ip, "retry_after", decision.RetryAfter)
		return s.deny(ctx, security.Entry{
			Action:     security.EventAPIRateLimited,
			ActorID:    security.ActorAnonymous,
			ActorEmail: security.EmailNone,
			IPAddress:  ip,
			Details:    map[string]any{"retryAfter": decision.RetryAfter},
		}, ErrResourceExhausted(
			fmt.Sprintf("rate limit exceeded, retry in %d seconds", decision.RetryAfter),
			decision.RetryAfter))
	}
	return nil
}

// IssueCSRFToken issues a CSRF token bound to the caller's subject
func (s *Server) IssueCSRFToken(ctx context.Context, caller Caller) (security.Token, error) {
	ctx, span := s.startSpan(ctx, "IssueCSRFToken")
	defer span.End()

	id := caller.Identity
	if id == nil {
		return security.Token{}, s.fail(span, ErrUnauthenticated("authentication required"))
	}
	if !s.IsAuthorized(id) {
		return security.Token{}, s.fail(span, s.deny(ctx, security.Entry{
			Action:     security.EventCSRFGenerationDenied,
			ActorID:    id.SubjectID,
			ActorEmail: id.Email,
			IPAddress:  caller.IPAddress,
		}, ErrPermissionDenied("access denied")))
	}

	token, err := s.Tokens.Issue(id.SubjectID)
	if err != nil {
		s.logger.Error("Failed to issue CSRF token", "error", err)
		return security.Token{}, s.fail(span, ErrInternal(err))
	}

	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordCSRFTokenIssued(ctx)
	}
	s.Auditor.RecordBestEffort(ctx, security.Entry{
		Action:     security.EventCSRFGenerated,
		ActorID:    id.SubjectID,
		ActorEmail: id.Email,
		IPAddress:  caller.IPAddress,
	})

	instrumentation.SetSpanSuccess(span)
	return token, nil
}

// VerifyCSRFToken checks a CSRF token presented by caller. A failed check is
// audited and returned as PermissionDenied.
func (s *Server) VerifyCSRFToken(ctx context.Context, caller Caller, token string) error {
	id := caller.Identity
	if id == nil {
		return ErrUnauthenticated("authentication required")
	}

	valid := s.Tokens.Verify(token, id.SubjectID)
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordCSRFVerification(ctx, valid)
	}
	if valid {
		return nil
	}

	reason := "invalid"
	if token == "" {
		reason = "missing"
	}
	return s.deny(ctx, security.Entry{
		Action:     security.EventCSRFVerificationFailed,
		ActorID:    id.SubjectID,
		ActorEmail: id.Email,
		IPAddress:  caller.IPAddress,
		Details:    map[string]any{"reason": reason},
	}, ErrPermissionDenied("invalid CSRF token"))
}

// BeforeSignIn gates an administrator sign-in: the caller's IP must be under
// the LOGIN_ATTEMPTS limit and the identity on the allow-list. On success a
// session is created.
func (s *Server) BeforeSignIn(ctx context.Context, caller Caller) (*SignInResult, error) {
	ctx, span := s.startSpan(ctx, "BeforeSignIn")
	defer span.End()

	id := caller.Identity
	if id == nil {
		return nil, s.fail(span, ErrUnauthenticated("authentication required"))
	}

	decision, err := s.Limiter.Check(ctx, caller.IPAddress, ratelimit.LoginAttempts)
	if err != nil {
		s.logger.Error("Sign-in rate limit check failed", "error", err)
		return nil, s.fail(span, ErrInternal(err))
	}
	if !decision.Allowed {
		s.recordSignIn(ctx, "rate_limited")
		return nil, s.fail(span, s.deny(ctx, security.Entry{
			Action:     security.EventLoginRateLimited,
			ActorEmail: id.Email,
			IPAddress:  caller.IPAddress,
			Details:    map[string]any{"ipAddress": caller.IPAddress},
		}, ErrResourceExhausted(
			fmt.Sprintf("too many sign-in attempts, retry in %d seconds", decision.RetryAfter),
			decision.RetryAfter)))
	}

	if !s.IsAuthorized(id) {
		s.recordSignIn(ctx, "unauthorized")
		return nil, s.fail(span, s.deny(ctx, security.Entry{
			Action:     security.EventLoginUnauthorized,
			ActorID:    id.SubjectID,
			ActorEmail: id.Email,
			IPAddress:  caller.IPAddress,
			Details:    map[string]any{"ipAddress": caller.IPAddress},
		}, ErrPermissionDenied("access denied")))
	}

	now := s.now()
	session := &storage.Session{
		ID:         uuid.NewString(),
		UserID:     id.SubjectID,
		Email:      id.Email,
		IPAddress:  caller.IPAddress,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.stores.Sessions.SaveSession(ctx, session); err != nil {
		s.logger.Error("Failed to create session", "error", err)
		return nil, s.fail(span, ErrInternal(err))
	}

	s.recordSignIn(ctx, "success")
	s.Auditor.RecordBestEffort(ctx, security.Entry{
		Action:     security.EventLoginSuccess,
		ActorID:    id.SubjectID,
		ActorEmail: id.Email,
		IPAddress:  caller.IPAddress,
		Details:    map[string]any{"provider": id.Provider},
	})

	instrumentation.SetSpanSuccess(span)
	return &SignInResult{
		Success:   true,
		SessionID: session.ID,
		ExpiresIn: int(s.Config.Session.IdleTimeout / time.Second),
	}, nil
}

// SignOut logs the sign-out and removes every session of the caller
func (s *Server) SignOut(ctx context.Context, caller Caller) (*SignOutResult, error) {
	ctx, span := s.startSpan(ctx, "SignOut")
	defer span.End()

	id := caller.Identity
	if id == nil {
		return nil, s.fail(span, ErrUnauthenticated("authentication required"))
	}

	s.Auditor.RecordBestEffort(ctx, security.Entry{
		Action:     security.EventLogout,
		ActorID:    id.SubjectID,
		ActorEmail: id.Email,
		IPAddress:  caller.IPAddress,
	})

	n, err := s.stores.Sessions.DeleteSessionsForUser(ctx, id.SubjectID)
	if err != nil {
		s.logger.Error("Failed to delete sessions", "error", err)
		return nil, s.fail(span, ErrInternal(err))
	}

	instrumentation.SetSpanSuccess(span)
	return &SignOutResult{Success: true, SessionsRemoved: n}, nil
}

// TouchSession checks a session for idleness. A session idle longer than the
// timeout is deleted and reported as Unauthenticated. When activity is true
// the idle clock is reset before the warning is computed.
func (s *Server) TouchSession(ctx context.Context, caller Caller, sessionID string, activity bool) (*SessionStatus, error) {
	ctx, span := s.startSpan(ctx, "TouchSession")
	defer span.End()

	id := caller.Identity
	if id == nil {
		return nil, s.fail(span, ErrUnauthenticated("authentication required"))
	}
	if sessionID == "" {
		return nil, s.fail(span, ErrInvalidArgument("sessionId is required"))
	}

	session, err := s.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, s.fail(span, ErrUnauthenticated("session not found"))
		}
		s.logger.Error("Failed to load session", "error", err)
		return nil, s.fail(span, ErrInternal(err))
	}
	if session.UserID != id.SubjectID {
		return nil, s.fail(span, ErrUnauthenticated("session not found"))
	}

	now := s.now()
	timeout := s.Config.Session.IdleTimeout
	if security.IsSessionIdle(session.LastSeenAt, now, timeout) {
		if err := s.stores.Sessions.DeleteSession(ctx, session.ID); err != nil {
			s.logger.Warn("Failed to delete expired session", "error", err)
		}
		return nil, s.fail(span, s.deny(ctx, security.Entry{
			Action:     security.EventSessionExpired,
			ActorID:    id.SubjectID,
			ActorEmail: id.Email,
			IPAddress:  caller.IPAddress,
			Details: map[string]any{
				"sessionId":   session.ID,
				"idleSeconds": int(now.Sub(session.LastSeenAt) / time.Second),
			},
		}, ErrUnauthenticated("session expired")))
	}

	lastSeen := session.LastSeenAt
	if activity {
		if err := s.stores.Sessions.TouchSession(ctx, session.ID, now); err != nil {
			s.logger.Error("Failed to touch session", "error", err)
			return nil, s.fail(span, ErrInternal(err))
		}
		lastSeen = now
	}

	instrumentation.SetSpanSuccess(span)
	return &SessionStatus{
		Active:           true,
		Warning:          security.SessionExpiresSoon(lastSeen, now, timeout, s.Config.Session.WarningWindow),
		RemainingSeconds: int(security.SessionRemaining(lastSeen, now, timeout) / time.Second),
	}, nil
}

// MutateMenuItem creates, updates or deletes a menu item. The caller must
// present the master passphrase or be an authorized administrator. Requests
// are limited per IP, and create/update payloads are sanitized, scanned and
// validated before reaching the store.
func (s *Server) MutateMenuItem(ctx context.Context, caller Caller, req MenuRequest) (*MenuResult, error) {
	ctx, span := s.startSpan(ctx, "MutateMenuItem",
		attribute.String(instrumentation.AttrAction, string(req.Action)))
	defer span.End()

	masterKey := s.IsMasterPassphrase(req.MasterKey)
	span.SetAttributes(attribute.Bool(instrumentation.AttrMasterKey, masterKey))

	if !masterKey && !s.IsAuthorized(caller.Identity) {
		s.recordMutation(ctx, req.Action, "denied")
		return nil, s.fail(span, s.deny(ctx, security.Entry{
			Action:     security.EventMenuUpdateDenied,
			ActorID:    security.ActorAnonymous,
			ActorEmail: security.EmailNone,
			IPAddress:  caller.IPAddress,
			Details:    map[string]any{"action": string(req.Action)},
		}, ErrPermissionDenied("master passphrase or administrator authentication required")))
	}

	actorID, actorEmail := security.ActorMasterKey, security.EmailNone
	if caller.Identity != nil {
		actorID, actorEmail = caller.Identity.SubjectID, caller.Identity.Email
	}
	span.SetAttributes(attribute.String(instrumentation.AttrActorID, actorID))
	entry := func(action string, details map[string]any) security.Entry {
		return security.Entry{
			Action:     action,
			ActorID:    actorID,
			ActorEmail: actorEmail,
			IPAddress:  caller.IPAddress,
			Details:    details,
		}
	}

	decision, err := s.Limiter.Check(ctx, caller.IPAddress, ratelimit.MenuUpdates)
	if err != nil {
		s.logger.Error("Menu update rate limit check failed", "error", err)
		return nil, s.fail(span, ErrInternal(err))
	}
	if !decision.Allowed {
		s.recordMutation(ctx, req.Action, "rate_limited")
		return nil, s.fail(span, s.deny(ctx, entry(security.EventMenuUpdateRateLimited, map[string]any{}),
			ErrResourceExhausted(
				fmt.Sprintf("menu update limit reached, retry in %d seconds", decision.RetryAfter),
				decision.RetryAfter)))
	}

	if problems := checkMenuRequest(req); len(problems) > 0 {
		s.recordMutation(ctx, req.Action, "invalid")
		return nil, s.fail(span, s.deny(ctx,
			entry(security.EventMenuValidationFailed, map[string]any{"errors": problems}),
			ErrInvalidArgument("invalid request", problems...)))
	}

	var fields map[string]any
	if req.Action != MenuActionDelete {
		fields, err = s.screenMenuItem(ctx, req.Data, entry)
		if err != nil {
			s.recordMutation(ctx, req.Action, "invalid")
			return nil, s.fail(span, err)
		}
	}

	now := s.now()
	itemID := req.ItemID
	var successEntry security.Entry
	switch req.Action {
	case MenuActionCreate:
		itemID = uuid.NewString()
		err = s.stores.Menu.CreateMenuItem(ctx, &storage.MenuItem{
			ID:        itemID,
			Fields:    fields,
			CreatedBy: actorID,
			CreatedAt: now,
			UpdatedBy: actorID,
			UpdatedAt: now,
		})
		successEntry = entry(security.EventMenuItemCreated, map[string]any{"itemId": itemID, "data": fields})
	case MenuActionUpdate:
		err = s.stores.Menu.UpdateMenuItem(ctx, itemID, fields, actorID, now)
		successEntry = entry(security.EventMenuItemUpdated, map[string]any{"itemId": itemID, "data": fields})
	case MenuActionDelete:
		err = s.stores.Menu.DeleteMenuItem(ctx, itemID)
		successEntry = entry(security.EventMenuItemDeleted, map[string]any{"itemId": itemID})
	}
	if err != nil {
		s.recordMutation(ctx, req.Action, "error")
		s.logger.Error("Menu mutation failed", "action", req.Action, "item_id", itemID, "error", err)
		return nil, s.fail(span, s.deny(ctx,
			entry(security.EventMenuUpdateError, map[string]any{"error": err.Error()}),
			ErrInternal(err)))
	}

	s.recordMutation(ctx, req.Action, "success")
	s.Auditor.RecordBestEffort(ctx, successEntry)

	span.SetAttributes(attribute.String(instrumentation.AttrItemID, itemID))
	instrumentation.SetSpanSuccess(span)
	return &MenuResult{Success: true, ItemID: itemID}, nil
}

// checkMenuRequest validates the action and item id of a menu request
func checkMenuRequest(req MenuRequest) []string {
	switch req.Action {
	case MenuActionCreate:
		return nil
	case MenuActionUpdate, MenuActionDelete:
		if req.ItemID == "" {
			return []string{fmt.Sprintf("itemId is required for %s", req.Action)}
		}
		return nil
	default:
		return []string{fmt.Sprintf("invalid action %q", req.Action)}
	}
}

// screenMenuItem sanitizes data, audits detected threats and validates the
// result. Blocking XSS threats and validation failures reject the item.
func (s *Server) screenMenuItem(ctx context.Context, data map[string]any, entry func(string, map[string]any) security.Entry) (map[string]any, error) {
	report, err := sanitize.SecureValidation(data)
	if err != nil {
		problems := []string{err.Error()}
		return nil, s.deny(ctx,
			entry(security.EventMenuValidationFailed, map[string]any{"errors": problems}),
			ErrInvalidArgument("invalid menu item", problems...))
	}

	if !report.IsSafe {
		threats := make([]map[string]any, 0, len(report.Threats))
		var rejected []string
		for _, t := range report.Threats {
			if s.Instrumentation != nil {
				s.Instrumentation.Metrics().RecordThreatDetected(ctx, string(t.Type))
			}
			threats = append(threats, map[string]any{
				"type":  string(t.Type),
				"field": t.Field,
				"rule":  t.Rule,
			})
			if t.Blocking() {
				rejected = append(rejected, fmt.Sprintf("%s contains a forbidden pattern", t.Field))
			}
		}

		threatEntry := entry(security.EventMenuThreatDetected, map[string]any{"threats": threats})
		if len(rejected) > 0 {
			return nil, s.deny(ctx, threatEntry, ErrInvalidArgument("input rejected", rejected...))
		}
		s.logger.Warn("Threat signature matched in menu item", "threats", len(report.Threats))
		s.Auditor.RecordBestEffort(ctx, threatEntry)
	}

	result := validation.ValidateMenuItem(report.Sanitized)
	if !result.Valid {
		if s.Instrumentation != nil {
			s.Instrumentation.Metrics().RecordValidationFailure(ctx, len(result.Errors))
		}
		return nil, s.deny(ctx,
			entry(security.EventMenuValidationFailed, map[string]any{"errors": result.Errors}),
			ErrInvalidArgument("invalid menu item", result.Errors...))
	}

	return report.Sanitized, nil
}

// FetchAuditLog returns one page of the audit log, newest first. limit
// defaults to 50 and is capped at 200; cursor is the NextCursor of the
// previous page.
func (s *Server) FetchAuditLog(ctx context.Context, caller Caller, limit int, cursor string) (*AuditPage, error) {
	ctx, span := s.startSpan(ctx, "FetchAuditLog")
	defer span.End()

	id := caller.Identity
	if id == nil {
		return nil, s.fail(span, ErrUnauthenticated("authentication required"))
	}
	if !s.IsAuthorized(id) {
		return nil, s.fail(span, s.deny(ctx, security.Entry{
			Action:     security.EventAuditLogDenied,
			ActorID:    id.SubjectID,
			ActorEmail: id.Email,
			IPAddress:  caller.IPAddress,
		}, ErrPermissionDenied("access denied")))
	}

	switch {
	case limit <= 0:
		limit = DefaultAuditPageSize
	case limit > MaxAuditPageSize:
		limit = MaxAuditPageSize
	}

	// One extra event tells whether another page follows.
	events, err := s.stores.Audit.ListAuditEvents(ctx, storage.AuditQuery{Limit: limit + 1, StartAfter: cursor})
	if err != nil {
		if errors.Is(err, storage.ErrAuditCursorNotFound) {
			return nil, s.fail(span, ErrInvalidArgument("invalid cursor").withCause(err))
		}
		s.logger.Error("Failed to list audit events", "error", err)
		return nil, s.fail(span, ErrInternal(err))
	}

	page := &AuditPage{Logs: make([]AuditRecord, 0, min(len(events), limit))}
	if len(events) > limit {
		events = events[:limit]
		page.NextCursor = events[limit-1].ID
	}
	for _, e := range events {
		page.Logs = append(page.Logs, newAuditRecord(e))
	}

	instrumentation.SetSpanSuccess(span)
	return page, nil
}

// Cleanup deletes rate windows older than the rate window retention and
// archives audit events older than the audit retention
func (s *Server) Cleanup(ctx context.Context) (*CleanupResult, error) {
	ctx, span := s.startSpan(ctx, "Cleanup")
	defer span.End()

	now := s.now()
	result := &CleanupResult{}

	n, err := s.stores.RateLimits.DeleteRateWindowsCreatedBefore(ctx, now.Add(-s.Config.Storage.RateWindowRetention))
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to delete old rate windows: %w", err)
	}
	result.RateWindowsDeleted = n

	n, err = s.stores.Audit.ArchiveAuditEventsBefore(ctx,
		now.Add(-s.Config.Storage.AuditRetention), s.Config.Storage.ArchiveBatchSize)
	result.AuditEventsArchived = n
	if err != nil {
		instrumentation.RecordError(span, err)
		return result, fmt.Errorf("failed to archive audit events: %w", err)
	}

	s.logger.Info("Cleanup completed",
		"rate_windows_deleted", result.RateWindowsDeleted,
		"audit_events_archived", result.AuditEventsArchived)
	s.Auditor.RecordBestEffort(ctx, security.Entry{
		Action:     security.EventCleanupCompleted,
		ActorID:    security.ActorSystem,
		ActorEmail: security.EmailNone,
		Details: map[string]any{
			"rateWindowsDeleted":  result.RateWindowsDeleted,
			"auditEventsArchived": result.AuditEventsArchived,
		},
	})

	instrumentation.SetSpanSuccess(span)
	return result, nil
}

// RestoreDefaults seeds the house menu. It requires the master passphrase and
// counts against the MENU_UPDATES limit of the caller's IP.
func (s *Server) RestoreDefaults(ctx context.Context, caller Caller, passphrase string) (*RestoreResult, error) {
	ctx, span := s.startSpan(ctx, "RestoreDefaults")
	defer span.End()

	entry := func(action string, details map[string]any) security.Entry {
		return security.Entry{
			Action:     action,
			ActorID:    security.ActorMasterKey,
			ActorEmail: security.EmailNone,
			IPAddress:  caller.IPAddress,
			Details:    details,
		}
	}

	if !s.IsMasterPassphrase(passphrase) {
		return nil, s.fail(span, s.deny(ctx, security.Entry{
			Action:     security.EventRestoreDenied,
			ActorID:    security.ActorAnonymous,
			ActorEmail: security.EmailNone,
			IPAddress:  caller.IPAddress,
			Details:    map[string]any{"reason": "Invalid Master Key"},
		}, ErrPermissionDenied("invalid master passphrase")))
	}

	decision, err := s.Limiter.Check(ctx, caller.IPAddress, ratelimit.MenuUpdates)
	if err != nil {
		s.logger.Error("Restore rate limit check failed", "error", err)
		return nil, s.fail(span, ErrInternal(err))
	}
	if !decision.Allowed {
		return nil, s.fail(span, s.deny(ctx, entry(security.EventRestoreRateLimited, map[string]any{}),
			ErrResourceExhausted(
				fmt.Sprintf("menu update limit reached, retry in %d seconds", decision.RetryAfter),
				decision.RetryAfter)))
	}

	items := DefaultMenuItems(s.now(), security.ActorMasterKey)
	if err := s.stores.Menu.SeedMenuItems(ctx, items); err != nil {
		s.logger.Error("Failed to restore default menu", "error", err)
		return nil, s.fail(span, s.deny(ctx,
			entry(security.EventRestoreError, map[string]any{"error": err.Error()}),
			ErrInternal(err)))
	}

	s.Auditor.RecordBestEffort(ctx, entry(security.EventRestoreSuccess, map[string]any{"count": len(items)}))

	instrumentation.SetSpanSuccess(span)
	return &RestoreResult{Success: true, Count: len(items)}, nil
}

// ListMenu returns every menu item ordered by creation time
func (s *Server) ListMenu(ctx context.Context) ([]MenuItemView, error) {
	ctx, span := s.startSpan(ctx, "ListMenu")
	defer span.End()

	items, err := s.stores.Menu.ListMenuItems(ctx)
	if err != nil {
		s.logger.Error("Failed to list menu items", "error", err)
		return nil, s.fail(span, ErrInternal(err))
	}

	views := make([]MenuItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newMenuItemView(item))
	}

	instrumentation.SetSpanSuccess(span)
	return views, nil
}

// deny records a denial and returns denial. A failure to write the audit
// record is joined onto the denial so neither is lost.
func (s *Server) deny(ctx context.Context, entry security.Entry, denial *Error) error {
	if err := s.Auditor.Record(ctx, entry); err != nil {
		s.logger.Error("Failed to audit security denial",
			"event_type", entry.Action,
			"error", err)
		return errors.Join(denial, err)
	}
	return denial
}

func (s *Server) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "server."+operation, trace.WithAttributes(attrs...))
}

// fail marks span failed with the kind of err and returns err
func (s *Server) fail(span trace.Span, err error) error {
	span.SetAttributes(attribute.String(instrumentation.AttrErrorKind, KindOf(err).String()))
	instrumentation.RecordError(span, err)
	return err
}

func (s *Server) recordSignIn(ctx context.Context, result string) {
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordSignIn(ctx, result)
	}
}

func (s *Server) recordMutation(ctx context.Context, action MenuAction, result string) {
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordMenuMutation(ctx, string(action), result)
	}
}
