// Package memory provides an in-memory implementation of the menuguard storage interfaces.
//
// This package implements RateLimitStore, AuditStore, MenuStore and SessionStore using
// Go's built-in maps with mutex protection for thread safety. It is suitable for
// development, testing, and single-instance deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic rate window updates (the update function runs under the write lock)
//   - Background removal of abandoned sessions
//   - OpenTelemetry spans and metrics via SetInstrumentation
//
// For production deployments requiring persistence or multi-instance deployments,
// use the storage/valkey package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	server, _ := menuguard.NewServer(cfg, menuguard.Stores{
//		RateLimits: store, Audit: store, Menu: store, Sessions: store,
//	}, provider)
package memory
