package processor

import (
	"encoding/json"
	"sort"
	"strings"
)

// Hit is one extracted rule violation.
type Hit struct {
	RuleFQDN string
	ErrorKey string
}

// HitExtractor turns the engine's serialized result into rule hits. It is a
// replaceable strategy: the shipped heuristic matches the engine's current
// key/value output, and deployments with a different engine schema swap in
// their own implementation. Extractors must degrade to zero hits on
// malformed input; they never fail the run.
type HitExtractor interface {
	Extract(result string) []Hit
}

// KeywordHitExtractor selects result entries whose key mentions a rule or an
// error, case-insensitively. The error key comes from the entry's own
// "error_key" field when present, otherwise DefaultErrorKey.
type KeywordHitExtractor struct {
	DefaultErrorKey string
}

// Extract implements HitExtractor. Empty or unparseable results yield nil.
func (x *KeywordHitExtractor) Extract(result string) []Hit {
	if strings.TrimSpace(result) == "" || result == "{}" {
		return nil
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		return nil
	}

	// Map iteration order is random; sort keys so hit order is stable.
	keys := make([]string, 0, len(parsed))
	for key := range parsed {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "error") || strings.Contains(lower, "rule") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	hits := make([]Hit, 0, len(keys))
	for _, key := range keys {
		errorKey := x.DefaultErrorKey
		var value map[string]any
		if err := json.Unmarshal(parsed[key], &value); err == nil {
			if ek, ok := value["error_key"].(string); ok && ek != "" {
				errorKey = ek
			}
		}
		hits = append(hits, Hit{RuleFQDN: key, ErrorKey: errorKey})
	}
	return hits
}
