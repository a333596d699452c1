// Package storage provides interfaces and record types for menuguard persistence.
//
// The storage package defines the store collaborators used throughout the module:
//   - RateLimitStore: Sliding-window attempt records, updated atomically
//   - AuditStore: Append-only security audit trail with archival
//   - MenuStore: Menu items and the bulk default reseed
//   - SessionStore: Administrator sessions tracked for idle timeout and sign-out
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development, tests and single-instance deployments
//   - storage/mock: Mock storage for unit testing and failure injection
//   - storage/valkey: Valkey/Redis-compatible storage for production
package storage
