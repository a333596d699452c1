package sanitize

import "strconv"

// Threat describes one string leaf that matched a detection signature
type Threat struct {
	Type  ThreatType `json:"type"`
	Field string     `json:"field"`
	Value string     `json:"value"`
	Rule  string     `json:"rule"`
}

// Blocking reports whether t matched a markup or URI-scheme signature
func (t Threat) Blocking() bool {
	return t.Type == ThreatXSS && blockingRules[t.Rule]
}

// Report is the outcome of SecureValidation
type Report struct {
	Sanitized map[string]any `json:"sanitized"`
	Threats   []Threat       `json:"threats"`
	IsSafe    bool           `json:"isSafe"`
}

// SecureValidation sanitizes input and scans every string leaf of the result.
// Field paths are dot-joined from the root; array indices are path components.
// A leaf matching both detectors yields two threats, SQL first.
func SecureValidation(input map[string]any) (Report, error) {
	sanitized, err := Sanitize(input)
	if err != nil {
		return Report{}, err
	}

	var threats []Threat
	scan(sanitized, "", &threats)

	return Report{
		Sanitized: sanitized,
		Threats:   threats,
		IsSafe:    len(threats) == 0,
	}, nil
}

func scan(v any, path string, threats *[]Threat) {
	switch t := v.(type) {
	case string:
		if r, ok := matchRule(sqlRules, t); ok {
			*threats = append(*threats, Threat{Type: r.Type, Field: path, Value: t, Rule: r.Name})
		}
		if r, ok := matchRule(xssRules, t); ok {
			*threats = append(*threats, Threat{Type: r.Type, Field: path, Value: t, Rule: r.Name})
		}
	case map[string]any:
		for _, k := range sortedKeys(t) {
			scan(t[k], joinPath(path, k), threats)
		}
	case []any:
		for i, elem := range t {
			scan(elem, joinPath(path, strconv.Itoa(i)), threats)
		}
	}
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
