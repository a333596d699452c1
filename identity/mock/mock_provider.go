// Package mock provides a mock implementation of the identity Provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/zinacoffee/menuguard/identity"
)

// MockProvider is a mock implementation of identity.Provider
type MockProvider struct {
	// VerifyFunc is called when Verify() is invoked
	VerifyFunc func(ctx context.Context, bearer string) (*identity.Identity, error)

	mu    sync.Mutex
	calls int
}

// NewMockProvider creates a mock that accepts every non-empty token as
// mock-user-123 <mock@example.com>
func NewMockProvider() *MockProvider {
	return &MockProvider{
		VerifyFunc: func(_ context.Context, bearer string) (*identity.Identity, error) {
			if bearer == "" {
				return nil, identity.ErrInvalidToken
			}
			return &identity.Identity{
				SubjectID:     "mock-user-123",
				Email:         "mock@example.com",
				EmailVerified: true,
				Provider:      "mock",
			}, nil
		},
	}
}

// Verify calls VerifyFunc
func (m *MockProvider) Verify(ctx context.Context, bearer string) (*identity.Identity, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.VerifyFunc(ctx, bearer)
}

// Calls returns how many times Verify was called
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
