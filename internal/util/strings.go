package util

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

// SafeTruncate truncates s to at most maxLen characters (runes) without
// splitting a multi-byte sequence. Returns the original string if it is short
// enough.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("Cappuccino", 3) // Returns: "Cap"
//	SafeTruncate("thé", 10)       // Returns: "thé"
//	SafeTruncate("test", -1)      // Returns: ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	count := 0
	for i := range s {
		if count == maxLen {
			return s[:i]
		}
		count++
	}
	return s
}

// RuneLength returns the number of characters in s.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}

// HashForLogging returns the first 16 hex characters of the SHA-256 digest of
// a sensitive value, so log lines can be correlated without exposing it.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
