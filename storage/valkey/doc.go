// Package valkey provides a Valkey storage backend for menuguard.
//
// Valkey is a high-performance key-value store that is wire-compatible with Redis.
// This package implements all storage interfaces, making it suitable for
// deployments that run more than one replica:
//
//   - Rate limit windows are shared, so limits hold across replicas
//   - The audit trail survives restarts
//   - Sessions expire on their own through key TTLs
//
// # Implemented Interfaces
//
// The Store type implements:
//
//   - [storage.RateLimitStore]: sliding-window attempt records
//   - [storage.AuditStore]: append-only audit trail with archiving
//   - [storage.MenuStore]: menu items
//   - [storage.SessionStore]: administrator sessions
//
// # Key Schema
//
// All keys use a configurable prefix (default "menuguard:") to avoid conflicts
// with other applications sharing the same Valkey instance:
//
//	{prefix}rate:{limitType}:{identifier} -> JSON(RateWindow)
//	{prefix}rate:index                    -> ZSET of window keys scored by creation time
//	{prefix}audit:event:{id}              -> JSON(AuditEvent)
//	{prefix}audit:index                   -> ZSET of "{seq}:{id}" scored by occurrence time
//	{prefix}audit:members                 -> HASH id -> index member
//	{prefix}audit:seq                     -> append counter
//	{prefix}audit:archive                 -> LIST of archived JSON(AuditEvent)
//	{prefix}menu:item:{id}                -> JSON(MenuItem)
//	{prefix}menu:index                    -> ZSET of item IDs in insertion order
//	{prefix}menu:seq                      -> insertion counter
//	{prefix}session:{id}                  -> JSON(Session) (with TTL)
//	{prefix}user:sessions:{userID}        -> SET of session IDs
//
// # Atomic Operations
//
// Every write that touches more than one key runs as a Lua script.
// Rate windows and menu updates use optimistic compare-and-swap on a version
// number: the update function runs client side and the script only commits
// when the stored version is unchanged. A lost race re-reads and retries.
//
// Scripts derive some keys from the prefix, so the store expects a single
// Valkey node or primary, not Valkey Cluster.
//
// # Configuration
//
// Basic usage:
//
//	store, err := valkey.New(valkey.Config{
//	    Address: "localhost:6379",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("MENUGUARD_VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
package valkey
