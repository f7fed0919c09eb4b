// Package content loads rule remediation content from a directory tree of
// YAML and markdown files and serves it from memory. The tree layout matches
// the one produced by the rule content repository:
//
//	<root>/external/rules/<rule_name>/plugin.yaml
//	<root>/external/rules/<rule_name>/<error_key>/metadata.yaml
//	<root>/external/rules/<rule_name>/<error_key>/{generic,reason,resolution,more_info}.md
//	<root>/internal/rules/...
//
// The index is built once at startup and is read-only afterwards.
package content

import (
	"strconv"
	"strings"
)

// RuleContent is the merged static metadata for one (rule, error key) pair.
type RuleContent struct {
	RuleFQDN    string
	ErrorKey    string
	Description string
	Generic     string
	Reason      string
	Resolution  string
	MoreInfo    string
	TotalRisk   int
	Likelihood  int
	Impact      int
	PublishDate string
	Tags        []string
}

// HasReason reports whether the entry carries a non-empty reason text.
func (c *RuleContent) HasReason() bool { return c.Reason != "" }

// impactLabels maps severity labels used in metadata.yaml to the 1-4 scale.
var impactLabels = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// NormalizeImpact coerces an impact value from metadata.yaml into the 1-4
// integer scale. Metadata files carry it either as a number or as a severity
// label; unrecognized labels fall back to 2 (medium).
func NormalizeImpact(v any) int {
	switch x := v.(type) {
	case nil:
		return 1
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	case float32:
		return int(x)
	case map[string]any:
		// Some metadata files nest the value: impact: {impact: 3}.
		return NormalizeImpact(x["impact"])
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n
		}
		if n, ok := impactLabels[strings.ToLower(strings.TrimSpace(x))]; ok {
			return n
		}
		return 2
	default:
		return 2
	}
}
