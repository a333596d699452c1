package storage

import (
	"maps"
	"slices"
	"time"
)

// RateWindow records the attempts made by one identifier for one limit type.
type RateWindow struct {
	Identifier string
	LimitType  string

	// Attempts holds attempt timestamps in Unix milliseconds, oldest first.
	// Entries older than the window are pruned lazily on the next check.
	Attempts []int64

	CreatedAt time.Time

	// Version is incremented on every write and used for compare-and-swap.
	Version int64
}

// Clone returns a deep copy of the window.
func (w *RateWindow) Clone() *RateWindow {
	if w == nil {
		return nil
	}
	c := *w
	c.Attempts = slices.Clone(w.Attempts)
	return &c
}

// AuditEvent is an immutable record of a security relevant action.
// Empty ActorID, ActorEmail or IPAddress mean the value was not known.
type AuditEvent struct {
	ID         string
	Action     string
	ActorID    string
	ActorEmail string
	IPAddress  string
	Details    map[string]any
	OccurredAt time.Time
}

// Clone returns a copy of the event with its own Details map.
func (e *AuditEvent) Clone() *AuditEvent {
	if e == nil {
		return nil
	}
	c := *e
	c.Details = maps.Clone(e.Details)
	return &c
}

// AuditQuery selects a page of audit events.
type AuditQuery struct {
	// Limit is the maximum number of events returned. Zero means no limit.
	Limit int

	// StartAfter is the ID of the last event of the previous page.
	StartAfter string
}

// MenuItem is a stored menu entry. Fields holds the sanitized, validated
// attributes (name, price, category, ...).
type MenuItem struct {
	ID        string
	Fields    map[string]any
	CreatedBy string
	CreatedAt time.Time
	UpdatedBy string
	UpdatedAt time.Time
}

// Clone returns a copy of the item with its own Fields map.
func (m *MenuItem) Clone() *MenuItem {
	if m == nil {
		return nil
	}
	c := *m
	c.Fields = maps.Clone(m.Fields)
	return &c
}

// Session is an authenticated administrator session.
type Session struct {
	ID         string
	UserID     string
	Email      string
	IPAddress  string
	CreatedAt  time.Time
	LastSeenAt time.Time
}
