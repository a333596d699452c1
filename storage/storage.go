package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations.
var (
	// ErrMenuItemNotFound is returned when a menu item does not exist
	ErrMenuItemNotFound = errors.New("menu item not found")

	// ErrMenuItemExists is returned when creating a menu item whose ID is taken
	ErrMenuItemExists = errors.New("menu item already exists")

	// ErrSessionNotFound is returned when a session does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrAuditEventExists is returned when appending an event whose ID is
	// already in the live log
	ErrAuditEventExists = errors.New("audit event already exists")

	// ErrAuditCursorNotFound is returned when a pagination cursor does not
	// reference a stored audit event
	ErrAuditCursorNotFound = errors.New("audit cursor not found")

	// ErrConcurrentUpdate is returned when an optimistic update keeps losing
	// against concurrent writers and gives up
	ErrConcurrentUpdate = errors.New("concurrent update conflict")
)

// RateWindowUpdateFunc receives the window currently stored (nil when absent)
// and returns the window to persist. Returning a nil window leaves the store
// unchanged. Implementations may invoke the function more than once when a
// concurrent writer wins, so it must not have side effects beyond its return
// values.
type RateWindowUpdateFunc func(current *RateWindow) (*RateWindow, error)

// RateLimitStore persists sliding-window attempt records.
// All methods accept context.Context for tracing and cancellation.
type RateLimitStore interface {
	// UpdateRateWindow reads the window stored under key, passes it to fn and
	// persists the result.
	// SECURITY: This operation MUST be atomic. Two concurrent callers for the
	// same key must never both act on the same stored state, otherwise bursts
	// can exceed the configured limit.
	UpdateRateWindow(ctx context.Context, key string, fn RateWindowUpdateFunc) error

	// DeleteRateWindowsCreatedBefore removes windows whose CreatedAt is before
	// cutoff and returns how many were removed.
	DeleteRateWindowsCreatedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditStore is the append-only audit trail.
type AuditStore interface {
	// AppendAuditEvent writes an event. Events are immutable once written.
	// Returns ErrAuditEventExists if the ID is already in the live log.
	AppendAuditEvent(ctx context.Context, event *AuditEvent) error

	// ListAuditEvents returns events ordered by OccurredAt, newest first,
	// starting after the event whose ID is query.StartAfter (when set).
	ListAuditEvents(ctx context.Context, query AuditQuery) ([]*AuditEvent, error)

	// ArchiveAuditEventsBefore copies events older than cutoff into the
	// archive and then deletes them from the live trail, batchSize events at a
	// time. Returns the number of archived events.
	ArchiveAuditEventsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

// MenuStore persists menu items.
type MenuStore interface {
	// CreateMenuItem stores a new item. Returns ErrMenuItemExists if the ID is taken.
	CreateMenuItem(ctx context.Context, item *MenuItem) error

	// UpdateMenuItem merges fields into an existing item.
	// Returns ErrMenuItemNotFound if the item does not exist.
	UpdateMenuItem(ctx context.Context, id string, fields map[string]any, updatedBy string, updatedAt time.Time) error

	// DeleteMenuItem removes an item. Deleting a missing item is not an error.
	DeleteMenuItem(ctx context.Context, id string) error

	// GetMenuItem retrieves an item by ID.
	GetMenuItem(ctx context.Context, id string) (*MenuItem, error)

	// ListMenuItems returns all items ordered by creation time.
	ListMenuItems(ctx context.Context) ([]*MenuItem, error)

	// SeedMenuItems stores all items or none of them.
	SeedMenuItems(ctx context.Context, items []*MenuItem) error
}

// SessionStore tracks administrator sessions.
type SessionStore interface {
	// SaveSession stores or replaces a session
	SaveSession(ctx context.Context, session *Session) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, id string) (*Session, error)

	// TouchSession records activity on a session
	TouchSession(ctx context.Context, id string, at time.Time) error

	// DeleteSession removes a single session
	DeleteSession(ctx context.Context, id string) error

	// DeleteSessionsForUser removes every session of a user in one batch and
	// returns how many were removed
	DeleteSessionsForUser(ctx context.Context, userID string) (int, error)
}
