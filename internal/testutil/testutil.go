// Package testutil provides testing utilities and helpers for the menuguard module.
package testutil

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zinacoffee/menuguard/storage"
)

// MockClock provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new mock clock set to t
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the current mock time
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// FixedTime is a stable reference instant used across tests
var FixedTime = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

// ValidMenuItem returns a menu item payload that passes validation
func ValidMenuItem() map[string]any {
	return map[string]any{
		"name":        "Espresso",
		"price":       2.5,
		"category":    "café",
		"description": "Strong coffee",
	}
}

// GenerateTestAuditEvent creates an audit event occurring at the given time
func GenerateTestAuditEvent(id, action string, at time.Time) *storage.AuditEvent {
	return &storage.AuditEvent{
		ID:         id,
		Action:     action,
		ActorID:    "uid-123",
		ActorEmail: "admin@example.com",
		IPAddress:  "203.0.113.10",
		Details:    map[string]any{"source": "test"},
		OccurredAt: at,
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertErrorIs fails the test if err does not wrap target
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// AssertEqual fails the test if got != want
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}
