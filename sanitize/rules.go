package sanitize

import "regexp"

// ThreatType classifies a detected threat
type ThreatType string

const (
	// ThreatSQLInjection marks a value matching a SQL injection signature
	ThreatSQLInjection ThreatType = "SQL_INJECTION"

	// ThreatXSS marks a value matching a cross-site scripting signature
	ThreatXSS ThreatType = "XSS"
)

// Rule is a named detection signature
type Rule struct {
	Name    string
	Type    ThreatType
	Pattern *regexp.Regexp
}

var sqlRules = []Rule{
	{Name: "sql.boolean-comparison", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`(?i)(\bor\b|\band\b).*?=`)},
	{Name: "sql.union-select", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`(?i)union.*select`)},
	{Name: "sql.insert-into", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`(?i)insert.*into`)},
	{Name: "sql.delete-from", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`(?i)delete.*from`)},
	{Name: "sql.drop-table", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`(?i)drop.*table`)},
	{Name: "sql.update-set", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`(?i)update.*set`)},
	{Name: "sql.comment-sequence", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`--`)},
	{Name: "sql.stacked-boolean", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`(?i);.*(\bor\b|\band\b)`)},
	{Name: "sql.single-quoted-or", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`(?i)'.*or.*'`)},
	{Name: "sql.double-quoted-or", Type: ThreatSQLInjection, Pattern: regexp.MustCompile(`(?i)".*or.*"`)},
}

var xssRules = []Rule{
	{Name: "xss.script-tag", Type: ThreatXSS, Pattern: regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`)},
	{Name: "xss.javascript-uri", Type: ThreatXSS, Pattern: regexp.MustCompile(`(?i)javascript:`)},
	{Name: "xss.event-handler", Type: ThreatXSS, Pattern: regexp.MustCompile(`(?i)on\w+\s*=`)},
	{Name: "xss.iframe-tag", Type: ThreatXSS, Pattern: regexp.MustCompile(`(?i)<iframe`)},
	{Name: "xss.object-tag", Type: ThreatXSS, Pattern: regexp.MustCompile(`(?i)<object`)},
	{Name: "xss.embed-tag", Type: ThreatXSS, Pattern: regexp.MustCompile(`(?i)<embed`)},
	{Name: "xss.eval-call", Type: ThreatXSS, Pattern: regexp.MustCompile(`(?i)eval\(`)},
	{Name: "xss.css-expression", Type: ThreatXSS, Pattern: regexp.MustCompile(`(?i)expression\(`)},
}

// blockingRules are the markup and URI-scheme signatures. The remaining XSS
// signatures also match ordinary menu prose such as "Medieval(style)" and
// are reported without blocking.
var blockingRules = map[string]bool{
	"xss.script-tag":     true,
	"xss.javascript-uri": true,
	"xss.iframe-tag":     true,
	"xss.object-tag":     true,
	"xss.embed-tag":      true,
}

// Signatures returns the names of all detection rules, SQL first
func Signatures() []string {
	names := make([]string, 0, len(sqlRules)+len(xssRules))
	for _, r := range sqlRules {
		names = append(names, r.Name)
	}
	for _, r := range xssRules {
		names = append(names, r.Name)
	}
	return names
}

// matchRule returns the first rule matching text
func matchRule(rules []Rule, text string) (Rule, bool) {
	for _, r := range rules {
		if r.Pattern.MatchString(text) {
			return r, true
		}
	}
	return Rule{}, false
}

// DetectSQLInjection reports whether text matches any SQL injection signature
func DetectSQLInjection(text string) bool {
	_, ok := matchRule(sqlRules, text)
	return ok
}

// DetectXSS reports whether text matches any cross-site scripting signature
func DetectXSS(text string) bool {
	_, ok := matchRule(xssRules, text)
	return ok
}
