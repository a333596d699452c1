package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zinacoffee/menuguard/instrumentation"
	"github.com/zinacoffee/menuguard/internal/util"
	"github.com/zinacoffee/menuguard/storage"
)

// Entry is a security event to be recorded. Empty ActorID, ActorEmail or
// IPAddress mean the value is unknown.
type Entry struct {
	Action     string
	ActorID    string
	ActorEmail string
	IPAddress  string
	Details    map[string]any
}

// Auditor appends security events to the audit store and mirrors them to the
// structured log with hashed PII.
type Auditor struct {
	store           storage.AuditStore
	logger          *slog.Logger
	now             func() time.Time
	instrumentation *instrumentation.Instrumentation
}

// AuditorOption configures an Auditor
type AuditorOption func(*Auditor)

// WithAuditClock sets the time source used for event timestamps
func WithAuditClock(now func() time.Time) AuditorOption {
	return func(a *Auditor) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAuditInstrumentation enables audit metrics
func WithAuditInstrumentation(inst *instrumentation.Instrumentation) AuditorOption {
	return func(a *Auditor) {
		a.instrumentation = inst
	}
}

// NewAuditor creates a new security auditor
func NewAuditor(store storage.AuditStore, logger *slog.Logger, opts ...AuditorOption) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Auditor{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record appends the event to the audit store. Errors are returned to the
// caller; use it where the audit record is itself the security control.
func (a *Auditor) Record(ctx context.Context, entry Entry) error {
	if entry.Action == "" {
		return errors.New("audit action is required")
	}

	event := &storage.AuditEvent{
		ID:         uuid.NewString(),
		Action:     entry.Action,
		ActorID:    entry.ActorID,
		ActorEmail: entry.ActorEmail,
		IPAddress:  entry.IPAddress,
		Details:    entry.Details,
		OccurredAt: a.now(),
	}

	a.logger.Info("security_audit",
		"event_type", event.Action,
		"event_id", event.ID,
		"user_id_hash", util.HashForLogging(event.ActorID),
		"email_hash", util.HashForLogging(event.ActorEmail),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.OccurredAt,
	)

	if a.store == nil {
		return errors.New("audit store is not configured")
	}
	if err := a.store.AppendAuditEvent(ctx, event); err != nil {
		if a.instrumentation != nil {
			a.instrumentation.Metrics().RecordAuditWriteFailure(ctx, event.Action)
		}
		return fmt.Errorf("failed to record audit event %s: %w", event.Action, err)
	}

	if a.instrumentation != nil {
		a.instrumentation.Metrics().RecordAuditEvent(ctx, event.Action)
	}
	return nil
}

// RecordBestEffort records the event and logs, rather than returns, any
// failure. Use it after an operation has already succeeded.
func (a *Auditor) RecordBestEffort(ctx context.Context, entry Entry) {
	if err := a.Record(ctx, entry); err != nil {
		a.logger.Error("Failed to write audit event",
			"event_type", entry.Action,
			"error", err)
	}
}
