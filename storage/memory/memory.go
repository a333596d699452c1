// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zinacoffee/menuguard/instrumentation"
	"github.com/zinacoffee/menuguard/internal/util"
	"github.com/zinacoffee/menuguard/storage"
)

const (
	// DefaultCleanupInterval is how often abandoned sessions are swept
	DefaultCleanupInterval = time.Minute

	// DefaultAbandonedSessionAge is how long a session may go unseen before
	// the background sweep removes it
	DefaultAbandonedSessionAge = 24 * time.Hour

	// idLogLength is the number of characters to include when logging IDs
	idLogLength = 8
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	rateWindows map[string]*storage.RateWindow

	// auditEvents is kept in append order
	auditEvents   []*storage.AuditEvent
	auditIDs      map[string]struct{}
	auditArchive  []*storage.AuditEvent
	menuItems     map[string]*storage.MenuItem
	sessions      map[string]*storage.Session
	menuItemOrder int64
	menuSeq       map[string]int64

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	rateWindowsCount atomic.Int64
	auditEventsCount atomic.Int64
	menuItemsCount   atomic.Int64
	sessionsCount    atomic.Int64

	// Cleanup
	cleanupInterval     time.Duration
	abandonedSessionAge time.Duration
	stopCleanup         chan struct{}
	stopOnce            sync.Once
	logger              *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.RateLimitStore = (*Store)(nil)
	_ storage.AuditStore     = (*Store)(nil)
	_ storage.MenuStore      = (*Store)(nil)
	_ storage.SessionStore   = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		rateWindows:         make(map[string]*storage.RateWindow),
		auditIDs:            make(map[string]struct{}),
		menuItems:           make(map[string]*storage.MenuItem),
		menuSeq:             make(map[string]int64),
		sessions:            make(map[string]*storage.Session),
		cleanupInterval:     cleanupInterval,
		abandonedSessionAge: DefaultAbandonedSessionAge,
		stopCleanup:         make(chan struct{}),
		logger:              slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetAbandonedSessionAge changes how long a session may stay unseen before
// the background sweep removes it.
func (s *Store) SetAbandonedSessionAge(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.abandonedSessionAge = d
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.syncCountersLocked()
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.rateWindowsCount.Load() },
			func() int64 { return s.auditEventsCount.Load() },
			func() int64 { return s.menuItemsCount.Load() },
			func() int64 { return s.sessionsCount.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// syncCountersLocked refreshes the gauge counters. Must be called with mu held.
func (s *Store) syncCountersLocked() {
	s.rateWindowsCount.Store(int64(len(s.rateWindows)))
	s.auditEventsCount.Store(int64(len(s.auditEvents)))
	s.menuItemsCount.Store(int64(len(s.menuItems)))
	s.sessionsCount.Store(int64(len(s.sessions)))
}

// ============================================================
// RateLimitStore Implementation
// ============================================================

// UpdateRateWindow runs fn under the write lock, so updates for the same key
// are serialized.
func (s *Store) UpdateRateWindow(ctx context.Context, key string, fn storage.RateWindowUpdateFunc) (err error) {
	ctx, span := s.startStorageSpan(ctx, "update_rate_window")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "update_rate_window", err, startTime) }()

	if key == "" {
		return fmt.Errorf("rate window key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.rateWindows[key]
	next, err := fn(current.Clone())
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	stored := next.Clone()
	stored.Version = 1
	if current != nil {
		stored.Version = current.Version + 1
	}
	s.rateWindows[key] = stored
	s.rateWindowsCount.Store(int64(len(s.rateWindows)))
	return nil
}

// DeleteRateWindowsCreatedBefore removes windows created before cutoff
func (s *Store) DeleteRateWindowsCreatedBefore(ctx context.Context, cutoff time.Time) (n int, err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_rate_windows")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_rate_windows", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, w := range s.rateWindows {
		if w.CreatedAt.Before(cutoff) {
			delete(s.rateWindows, key)
			n++
		}
	}
	s.rateWindowsCount.Store(int64(len(s.rateWindows)))
	return n, nil
}

// ============================================================
// AuditStore Implementation
// ============================================================

// AppendAuditEvent appends an event to the trail
func (s *Store) AppendAuditEvent(ctx context.Context, event *storage.AuditEvent) (err error) {
	ctx, span := s.startStorageSpan(ctx, "append_audit_event")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "append_audit_event", err, startTime) }()

	if event == nil {
		return fmt.Errorf("audit event cannot be nil")
	}
	if event.ID == "" {
		return fmt.Errorf("audit event ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.auditIDs[event.ID]; exists {
		return fmt.Errorf("%w: %s", storage.ErrAuditEventExists, util.SafeTruncate(event.ID, idLogLength))
	}
	s.auditIDs[event.ID] = struct{}{}
	s.auditEvents = append(s.auditEvents, event.Clone())
	s.auditEventsCount.Store(int64(len(s.auditEvents)))
	return nil
}

// ListAuditEvents returns events newest first
func (s *Store) ListAuditEvents(ctx context.Context, query storage.AuditQuery) (events []*storage.AuditEvent, err error) {
	ctx, span := s.startStorageSpan(ctx, "list_audit_events")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "list_audit_events", err, startTime) }()

	s.mu.RLock()
	ordered := make([]*storage.AuditEvent, 0, len(s.auditEvents))
	for i := len(s.auditEvents) - 1; i >= 0; i-- {
		ordered = append(ordered, s.auditEvents[i])
	}
	s.mu.RUnlock()

	// Reverse append order first, so the stable sort puts the later of two
	// events with equal timestamps first.
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OccurredAt.After(ordered[j].OccurredAt)
	})

	start := 0
	if query.StartAfter != "" {
		start = -1
		for i, e := range ordered {
			if e.ID == query.StartAfter {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("%w: %s", storage.ErrAuditCursorNotFound, util.SafeTruncate(query.StartAfter, idLogLength))
		}
	}

	ordered = ordered[start:]
	if query.Limit > 0 && len(ordered) > query.Limit {
		ordered = ordered[:query.Limit]
	}

	events = make([]*storage.AuditEvent, len(ordered))
	for i, e := range ordered {
		events[i] = e.Clone()
	}
	return events, nil
}

// ArchiveAuditEventsBefore moves events older than cutoff into the archive
func (s *Store) ArchiveAuditEventsBefore(ctx context.Context, cutoff time.Time, batchSize int) (n int, err error) {
	ctx, span := s.startStorageSpan(ctx, "archive_audit_events")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "archive_audit_events", err, startTime) }()

	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		batch := make(map[string]bool, batchSize)
		for _, e := range s.auditEvents {
			if len(batch) == batchSize {
				break
			}
			if e.OccurredAt.Before(cutoff) {
				// copy first
				s.auditArchive = append(s.auditArchive, e.Clone())
				batch[e.ID] = true
			}
		}
		if len(batch) == 0 {
			break
		}

		// then delete
		kept := s.auditEvents[:0]
		for _, e := range s.auditEvents {
			if !batch[e.ID] {
				kept = append(kept, e)
			} else {
				delete(s.auditIDs, e.ID)
			}
		}
		clear(s.auditEvents[len(kept):])
		s.auditEvents = kept
		n += len(batch)
	}

	s.auditEventsCount.Store(int64(len(s.auditEvents)))
	return n, nil
}

// ArchivedAuditEvents returns a copy of the archived events in archive order
func (s *Store) ArchivedAuditEvents() []*storage.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.AuditEvent, len(s.auditArchive))
	for i, e := range s.auditArchive {
		out[i] = e.Clone()
	}
	return out
}

// ============================================================
// MenuStore Implementation
// ============================================================

// CreateMenuItem stores a new menu item
func (s *Store) CreateMenuItem(ctx context.Context, item *storage.MenuItem) (err error) {
	ctx, span := s.startStorageSpan(ctx, "create_menu_item")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "create_menu_item", err, startTime) }()

	if err := validateMenuItem(item); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.menuItems[item.ID]; exists {
		return fmt.Errorf("%w: %s", storage.ErrMenuItemExists, item.ID)
	}
	s.putMenuItemLocked(item)
	return nil
}

// UpdateMenuItem merges fields into an existing item
func (s *Store) UpdateMenuItem(ctx context.Context, id string, fields map[string]any, updatedBy string, updatedAt time.Time) (err error) {
	ctx, span := s.startStorageSpan(ctx, "update_menu_item")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "update_menu_item", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.menuItems[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrMenuItemNotFound, id)
	}
	if item.Fields == nil {
		item.Fields = make(map[string]any, len(fields))
	}
	maps.Copy(item.Fields, fields)
	item.UpdatedBy = updatedBy
	item.UpdatedAt = updatedAt
	return nil
}

// DeleteMenuItem removes an item; missing items are ignored
func (s *Store) DeleteMenuItem(ctx context.Context, id string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_menu_item")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_menu_item", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.menuItems, id)
	delete(s.menuSeq, id)
	s.menuItemsCount.Store(int64(len(s.menuItems)))
	return nil
}

// GetMenuItem retrieves an item by ID
func (s *Store) GetMenuItem(ctx context.Context, id string) (item *storage.MenuItem, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_menu_item")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_menu_item", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.menuItems[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrMenuItemNotFound, id)
	}
	return stored.Clone(), nil
}

// ListMenuItems returns all items in creation order
func (s *Store) ListMenuItems(ctx context.Context) (items []*storage.MenuItem, err error) {
	ctx, span := s.startStorageSpan(ctx, "list_menu_items")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "list_menu_items", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	items = make([]*storage.MenuItem, 0, len(s.menuItems))
	for _, item := range s.menuItems {
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return s.menuSeq[items[i].ID] < s.menuSeq[items[j].ID]
	})
	return items, nil
}

// SeedMenuItems stores every item, or none if any of them is invalid or taken
func (s *Store) SeedMenuItems(ctx context.Context, items []*storage.MenuItem) (err error) {
	ctx, span := s.startStorageSpan(ctx, "seed_menu_items")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "seed_menu_items", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if err := validateMenuItem(item); err != nil {
			return err
		}
		if _, exists := s.menuItems[item.ID]; exists || seen[item.ID] {
			return fmt.Errorf("%w: %s", storage.ErrMenuItemExists, item.ID)
		}
		seen[item.ID] = true
	}

	for _, item := range items {
		s.putMenuItemLocked(item)
	}
	return nil
}

// putMenuItemLocked stores a copy of item. Must be called with mu held.
func (s *Store) putMenuItemLocked(item *storage.MenuItem) {
	s.menuItemOrder++
	s.menuItems[item.ID] = item.Clone()
	s.menuSeq[item.ID] = s.menuItemOrder
	s.menuItemsCount.Store(int64(len(s.menuItems)))
}

func validateMenuItem(item *storage.MenuItem) error {
	if item == nil {
		return fmt.Errorf("menu item cannot be nil")
	}
	if item.ID == "" {
		return fmt.Errorf("menu item ID cannot be empty")
	}
	return nil
}

// ============================================================
// SessionStore Implementation
// ============================================================

// SaveSession stores or replaces a session
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_session")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_session", err, startTime) }()

	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if session.ID == "" || session.UserID == "" {
		return fmt.Errorf("session ID and user ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *session
	s.sessions[session.ID] = &stored
	s.sessionsCount.Store(int64(len(s.sessions)))
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (session *storage.Session, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_session")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_session", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, util.SafeTruncate(id, idLogLength))
	}
	c := *stored
	return &c, nil
}

// TouchSession records activity on a session
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) (err error) {
	ctx, span := s.startStorageSpan(ctx, "touch_session")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "touch_session", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrSessionNotFound, util.SafeTruncate(id, idLogLength))
	}
	stored.LastSeenAt = at
	return nil
}

// DeleteSession removes a single session
func (s *Store) DeleteSession(ctx context.Context, id string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_session")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_session", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	s.sessionsCount.Store(int64(len(s.sessions)))
	return nil
}

// DeleteSessionsForUser removes every session belonging to userID
func (s *Store) DeleteSessionsForUser(ctx context.Context, userID string) (n int, err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_user_sessions")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_user_sessions", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	s.sessionsCount.Store(int64(len(s.sessions)))
	return n, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup(time.Now())
		}
	}
}

// cleanup drops sessions nobody has used for abandonedSessionAge.
func (s *Store) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for id, session := range s.sessions {
		if now.Sub(session.LastSeenAt) > s.abandonedSessionAge {
			delete(s.sessions, id)
			cleaned++
		}
	}
	s.sessionsCount.Store(int64(len(s.sessions)))

	if cleaned > 0 {
		s.logger.Debug("Removed abandoned sessions", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		// non-recording span; ending it must not end the caller's span
		return ctx, trace.SpanFromContext(context.Background())
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
