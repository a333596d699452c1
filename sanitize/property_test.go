package sanitize

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/zinacoffee/menuguard/internal/util"
)

// genKey favors keys carrying operator prefixes
func genKey() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[$.]?[a-z_.$]{0,8}`),
		rapid.String(),
	)
}

func genValue(depth int) *rapid.Generator[any] {
	return rapid.Custom(func(t *rapid.T) any {
		choice := rapid.IntRange(0, 5).Draw(t, "kind")
		if depth >= 3 && choice >= 4 {
			choice = 0
		}
		switch choice {
		case 0:
			return rapid.String().Draw(t, "string")
		case 1:
			return rapid.Float64().Draw(t, "number")
		case 2:
			return rapid.Bool().Draw(t, "bool")
		case 3:
			return nil
		case 4:
			return rapid.MapOf(genKey(), genValue(depth+1)).Draw(t, "map")
		default:
			elems := rapid.SliceOfN(rapid.OneOf(
				rapid.Custom(func(t *rapid.T) any { return rapid.String().Draw(t, "elem") }),
				rapid.Custom(func(t *rapid.T) any {
					obj := make(map[string]any)
					for k, v := range rapid.MapOf(genKey(), rapid.String()).Draw(t, "obj") {
						obj[k] = v
					}
					return obj
				}),
			), 0, 150).Draw(t, "array")
			return elems
		}
	})
}

func genInput() *rapid.Generator[map[string]any] {
	return rapid.MapOf(genKey(), genValue(0))
}

func walk(v any, visit func(key string, leaf any)) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			visit(k, val)
			walk(val, visit)
		}
	case []any:
		for _, val := range t {
			walk(val, visit)
		}
	}
}

func TestSanitize_NoOperatorKeysProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		out, err := Sanitize(genInput().Draw(t, "input"))
		if err != nil {
			t.Fatalf("Sanitize() error = %v", err)
		}
		walk(out, func(key string, _ any) {
			if strings.HasPrefix(key, "$") || strings.HasPrefix(key, ".") {
				t.Fatalf("operator key %q survived", key)
			}
		})
	})
}

func TestSanitize_BoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		out, err := Sanitize(genInput().Draw(t, "input"))
		if err != nil {
			t.Fatalf("Sanitize() error = %v", err)
		}
		walk(out, func(_ string, leaf any) {
			switch v := leaf.(type) {
			case string:
				if n := util.RuneLength(v); n > MaxStringLength {
					t.Fatalf("string of length %d exceeds %d", n, MaxStringLength)
				}
			case []any:
				if len(v) > MaxArrayLength {
					t.Fatalf("array of length %d exceeds %d", len(v), MaxArrayLength)
				}
			}
		})
	})
}

func TestSanitizeString_EscapesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		got := SanitizeString(s)

		if strings.ContainsAny(got, `<>"'/`) {
			t.Fatalf("SanitizeString(%q) = %q contains a raw special character", s, got)
		}
		// Every ampersand left must open one of the entities we emit, unless
		// truncation cut the entity short at the very end.
		for i := strings.IndexByte(got, '&'); i >= 0; {
			rest := got[i:]
			ok := false
			for _, entity := range []string{"&amp;", "&lt;", "&gt;", "&quot;", "&#x27;", "&#x2F;"} {
				if strings.HasPrefix(rest, entity) || strings.HasPrefix(entity, rest) {
					ok = true
					break
				}
			}
			if !ok {
				t.Fatalf("SanitizeString(%q) = %q has a bare ampersand at %d", s, got, i)
			}
			next := strings.IndexByte(got[i+1:], '&')
			if next < 0 {
				break
			}
			i += next + 1
		}
	})
}
