// Package mock provides mock implementations of storage interfaces for testing.
//
// Every mock delegates to an in-memory store by default. Tests override the
// individual Func fields to inject failures or observe calls.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/zinacoffee/menuguard/storage"
	"github.com/zinacoffee/menuguard/storage/memory"
)

// callCounter tracks how often each method was invoked
type callCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *callCounter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[name]++
}

// Calls returns how many times the named method was called
func (c *callCounter) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

// ResetCallCounts resets all call counters
func (c *callCounter) ResetCallCounts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int)
}

// MockRateLimitStore is a mock implementation of RateLimitStore for testing
type MockRateLimitStore struct {
	callCounter
	UpdateRateWindowFunc  func(ctx context.Context, key string, fn storage.RateWindowUpdateFunc) error
	DeleteCreatedBeforeFn func(ctx context.Context, cutoff time.Time) (int, error)
}

// NewMockRateLimitStore creates a mock backed by backing
func NewMockRateLimitStore(backing *memory.Store) *MockRateLimitStore {
	return &MockRateLimitStore{
		UpdateRateWindowFunc:  backing.UpdateRateWindow,
		DeleteCreatedBeforeFn: backing.DeleteRateWindowsCreatedBefore,
	}
}

// UpdateRateWindow atomically updates the window stored under key
func (m *MockRateLimitStore) UpdateRateWindow(ctx context.Context, key string, fn storage.RateWindowUpdateFunc) error {
	m.inc("UpdateRateWindow")
	return m.UpdateRateWindowFunc(ctx, key, fn)
}

// DeleteRateWindowsCreatedBefore removes windows created before cutoff
func (m *MockRateLimitStore) DeleteRateWindowsCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.inc("DeleteRateWindowsCreatedBefore")
	return m.DeleteCreatedBeforeFn(ctx, cutoff)
}

// MockAuditStore is a mock implementation of AuditStore for testing
type MockAuditStore struct {
	callCounter
	AppendFunc  func(ctx context.Context, event *storage.AuditEvent) error
	ListFunc    func(ctx context.Context, query storage.AuditQuery) ([]*storage.AuditEvent, error)
	ArchiveFunc func(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

// NewMockAuditStore creates a mock backed by backing
func NewMockAuditStore(backing *memory.Store) *MockAuditStore {
	return &MockAuditStore{
		AppendFunc:  backing.AppendAuditEvent,
		ListFunc:    backing.ListAuditEvents,
		ArchiveFunc: backing.ArchiveAuditEventsBefore,
	}
}

// AppendAuditEvent stores an event
func (m *MockAuditStore) AppendAuditEvent(ctx context.Context, event *storage.AuditEvent) error {
	m.inc("AppendAuditEvent")
	return m.AppendFunc(ctx, event)
}

// ListAuditEvents returns a page of events, newest first
func (m *MockAuditStore) ListAuditEvents(ctx context.Context, query storage.AuditQuery) ([]*storage.AuditEvent, error) {
	m.inc("ListAuditEvents")
	return m.ListFunc(ctx, query)
}

// ArchiveAuditEventsBefore moves old events out of the live log
func (m *MockAuditStore) ArchiveAuditEventsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	m.inc("ArchiveAuditEventsBefore")
	return m.ArchiveFunc(ctx, cutoff, batchSize)
}

// MockMenuStore is a mock implementation of MenuStore for testing
type MockMenuStore struct {
	callCounter
	CreateFunc func(ctx context.Context, item *storage.MenuItem) error
	UpdateFunc func(ctx context.Context, id string, fields map[string]any, updatedBy string, updatedAt time.Time) error
	DeleteFunc func(ctx context.Context, id string) error
	GetFunc    func(ctx context.Context, id string) (*storage.MenuItem, error)
	ListFunc   func(ctx context.Context) ([]*storage.MenuItem, error)
	SeedFunc   func(ctx context.Context, items []*storage.MenuItem) error
}

// NewMockMenuStore creates a mock backed by backing
func NewMockMenuStore(backing *memory.Store) *MockMenuStore {
	return &MockMenuStore{
		CreateFunc: backing.CreateMenuItem,
		UpdateFunc: backing.UpdateMenuItem,
		DeleteFunc: backing.DeleteMenuItem,
		GetFunc:    backing.GetMenuItem,
		ListFunc:   backing.ListMenuItems,
		SeedFunc:   backing.SeedMenuItems,
	}
}

// CreateMenuItem stores a new item
func (m *MockMenuStore) CreateMenuItem(ctx context.Context, item *storage.MenuItem) error {
	m.inc("CreateMenuItem")
	return m.CreateFunc(ctx, item)
}

// UpdateMenuItem merges fields into an existing item
func (m *MockMenuStore) UpdateMenuItem(ctx context.Context, id string, fields map[string]any, updatedBy string, updatedAt time.Time) error {
	m.inc("UpdateMenuItem")
	return m.UpdateFunc(ctx, id, fields, updatedBy, updatedAt)
}

// DeleteMenuItem removes an item
func (m *MockMenuStore) DeleteMenuItem(ctx context.Context, id string) error {
	m.inc("DeleteMenuItem")
	return m.DeleteFunc(ctx, id)
}

// GetMenuItem retrieves an item by ID
func (m *MockMenuStore) GetMenuItem(ctx context.Context, id string) (*storage.MenuItem, error) {
	m.inc("GetMenuItem")
	return m.GetFunc(ctx, id)
}

// ListMenuItems returns all items
func (m *MockMenuStore) ListMenuItems(ctx context.Context) ([]*storage.MenuItem, error) {
	m.inc("ListMenuItems")
	return m.ListFunc(ctx)
}

// SeedMenuItems stores a batch of items
func (m *MockMenuStore) SeedMenuItems(ctx context.Context, items []*storage.MenuItem) error {
	m.inc("SeedMenuItems")
	return m.SeedFunc(ctx, items)
}

// MockSessionStore is a mock implementation of SessionStore for testing
type MockSessionStore struct {
	callCounter
	SaveFunc          func(ctx context.Context, session *storage.Session) error
	GetFunc           func(ctx context.Context, id string) (*storage.Session, error)
	TouchFunc         func(ctx context.Context, id string, at time.Time) error
	DeleteFunc        func(ctx context.Context, id string) error
	DeleteForUserFunc func(ctx context.Context, userID string) (int, error)
}

// NewMockSessionStore creates a mock backed by backing
func NewMockSessionStore(backing *memory.Store) *MockSessionStore {
	return &MockSessionStore{
		SaveFunc:          backing.SaveSession,
		GetFunc:           backing.GetSession,
		TouchFunc:         backing.TouchSession,
		DeleteFunc:        backing.DeleteSession,
		DeleteForUserFunc: backing.DeleteSessionsForUser,
	}
}

// SaveSession stores a session
func (m *MockSessionStore) SaveSession(ctx context.Context, session *storage.Session) error {
	m.inc("SaveSession")
	return m.SaveFunc(ctx, session)
}

// GetSession retrieves a session
func (m *MockSessionStore) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	m.inc("GetSession")
	return m.GetFunc(ctx, id)
}

// TouchSession records activity on a session
func (m *MockSessionStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	m.inc("TouchSession")
	return m.TouchFunc(ctx, id, at)
}

// DeleteSession removes a session
func (m *MockSessionStore) DeleteSession(ctx context.Context, id string) error {
	m.inc("DeleteSession")
	return m.DeleteFunc(ctx, id)
}

// DeleteSessionsForUser removes all sessions of a user
func (m *MockSessionStore) DeleteSessionsForUser(ctx context.Context, userID string) (int, error) {
	m.inc("DeleteSessionsForUser")
	return m.DeleteForUserFunc(ctx, userID)
}

var (
	_ storage.RateLimitStore = (*MockRateLimitStore)(nil)
	_ storage.AuditStore     = (*MockAuditStore)(nil)
	_ storage.MenuStore      = (*MockMenuStore)(nil)
	_ storage.SessionStore   = (*MockSessionStore)(nil)
)
