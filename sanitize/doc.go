// Package sanitize cleans untrusted menu payloads and flags values that look
// like SQL injection or cross-site scripting attempts.
//
// Sanitize never rejects input; it normalizes it. Keys are reduced to
// [A-Za-z0-9_], strings are trimmed, HTML-escaped and truncated, non-finite
// numbers become 0 and nil values are dropped. A second pass removes keys
// starting with "$" or "." at every level so that sanitized records can be
// handed to document stores without operator injection.
//
// Threat detection is a separate concern: DetectSQLInjection and DetectXSS
// report whether a string matches any of a fixed set of signatures, and
// SecureValidation sanitizes first and then scans every string leaf of the
// sanitized tree with both detectors.
package sanitize
