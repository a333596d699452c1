// Package util provides common utility functions used across the menuguard module.
//
// This package contains helpers for string truncation, numeric coercion of
// decoded JSON values, and hashing of personal data before it is logged.
// These utilities are used internally by multiple packages to keep behaviour
// consistent between sanitization, validation and audit logging.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings to a number of characters
//   - ToFloat64: Interprets any Go numeric type as a float64
//   - HashForLogging: Produces a short, stable digest of personal data
package util
