// Package security provides the security primitives of the menu service:
// CSRF tokens, the audit trail, request throttling, client IP extraction,
// security headers, request IDs and session idle checks.
//
// # CSRF Tokens
//
// TokenService issues stateless tokens bound to a subject:
//
//	<issuedAtMillis>.<hex HMAC-SHA256(secret, "<subjectID>:<issuedAtMillis>")>
//
// Verification rejects malformed tokens, tokens older than one hour and tokens
// dated more than DefaultClockSkewGracePeriod in the future, then compares the
// signature in constant time. A token exactly one hour old is still accepted.
//
// InsecureFallbackCSRFSecret is only meant for local development; the
// configuration layer refuses it in production.
//
// # Audit Trail
//
// Auditor appends events to a storage.AuditStore and mirrors each one to the
// structured log as "security_audit" with user IDs and emails hashed.
//
// Two write policies exist:
//   - Record returns store failures. Denials use it, since the audit record
//     is the control itself.
//   - RecordBestEffort logs store failures and returns nothing. Successful
//     operations use it so a logging outage cannot fail a completed change.
//
// # Throttling
//
// Throttle is an in-memory token bucket per client IP with LRU eviction. It
// sheds floods before they reach the persistent sliding-window limits in
// package ratelimit.
//
// Default configuration:
//   - MaxEntries: 10,000 unique identifiers
//   - CleanupInterval: 5 minutes
//   - IdleTimeout: 30 minutes
package security
