package sanitize

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/zinacoffee/menuguard/internal/util"
)

const (
	// MaxStringLength is the maximum length of a sanitized string, in characters
	MaxStringLength = 10000

	// MaxArrayLength is the maximum number of elements kept from an array
	MaxArrayLength = 100

	// MaxDepth is the deepest level of nested maps Sanitize accepts
	MaxDepth = 64
)

// ErrMaxDepthExceeded is returned when the input nests maps deeper than MaxDepth
var ErrMaxDepthExceeded = errors.New("input nesting exceeds maximum depth")

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// EscapeHTML replaces & < > " ' / with their HTML entities
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// SanitizeKey keeps only ASCII letters, digits and underscores
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SanitizeString trims, escapes and truncates a single value
func SanitizeString(s string) string {
	return util.SafeTruncate(EscapeHTML(strings.TrimSpace(s)), MaxStringLength)
}

// Sanitize returns a cleaned copy of input. The input is not modified.
//
// Keys whose filtered form collides resolve in sorted order of the original
// keys, so the last one wins.
func Sanitize(input map[string]any) (map[string]any, error) {
	out, err := sanitizeMap(input, 1)
	if err != nil {
		return nil, err
	}
	return stripOperatorKeys(out), nil
}

func sanitizeMap(input map[string]any, depth int) (map[string]any, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrMaxDepthExceeded, MaxDepth)
	}

	out := make(map[string]any, len(input))
	for _, key := range sortedKeys(input) {
		cleanKey := SanitizeKey(key)

		switch v := input[key].(type) {
		case nil:
			// dropped
		case string:
			out[cleanKey] = SanitizeString(v)
		case bool:
			out[cleanKey] = v
		case float64:
			out[cleanKey] = finiteOrZero(v)
		case float32:
			out[cleanKey] = float32(finiteOrZero(float64(v)))
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			out[cleanKey] = v
		case []any:
			out[cleanKey] = sanitizeArray(v)
		case []string:
			out[cleanKey] = sanitizeArray(stringsToAny(v))
		case map[string]any:
			nested, err := sanitizeMap(v, depth+1)
			if err != nil {
				return nil, err
			}
			out[cleanKey] = nested
		}
	}
	return out, nil
}

// sanitizeArray escapes string elements and keeps every other element as is.
// Object elements are only cleaned of operator keys by the second pass.
func sanitizeArray(in []any) []any {
	n := min(len(in), MaxArrayLength)
	out := make([]any, n)
	for i := 0; i < n; i++ {
		if s, ok := in[i].(string); ok {
			out[i] = util.SafeTruncate(EscapeHTML(s), MaxStringLength)
			continue
		}
		out[i] = in[i]
	}
	return out
}

// stripOperatorKeys removes keys beginning with "$" or "." at every level,
// including maps nested inside arrays. It copies rather than mutates, since
// array elements may still alias the caller's input.
func stripOperatorKeys(v any) map[string]any {
	m, _ := stripValue(v).(map[string]any)
	return m
}

func stripValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if strings.HasPrefix(k, "$") || strings.HasPrefix(k, ".") {
				continue
			}
			out[k] = stripValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripValue(val)
		}
		return out
	default:
		return v
	}
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
