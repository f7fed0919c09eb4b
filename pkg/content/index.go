package content

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ruleKey identifies one content entry.
type ruleKey struct {
	ruleFQDN string
	errorKey string
}

// Index is an immutable in-memory index of rule content keyed by
// (rule FQDN, error key). It is safe for concurrent readers because it is
// never mutated after Load returns.
type Index struct {
	entries map[ruleKey]*RuleContent
	all     []*RuleContent
	logger  *slog.Logger
}

// markdown fragments read from each error key directory.
var fragmentNames = []string{"generic", "reason", "resolution", "more_info"}

// Load walks the content tree under root and builds the index. A missing
// root is not an error: the index is simply empty and every lookup misses.
// Malformed rule or error-key directories are logged and skipped.
func Load(root string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	idx := &Index{
		entries: make(map[ruleKey]*RuleContent),
		logger:  logger,
	}

	if _, err := os.Stat(root); err != nil {
		logger.Warn("content root not available, serving empty index", "root", root, "error", err)
		return idx, nil
	}

	for _, group := range []string{"external", "internal"} {
		rulesDir := filepath.Join(root, group, "rules")
		if _, err := os.Stat(rulesDir); err != nil {
			continue
		}
		if err := idx.loadGroup(rulesDir, group); err != nil {
			return nil, err
		}
	}

	sort.Slice(idx.all, func(i, j int) bool {
		a, b := idx.all[i], idx.all[j]
		if a.RuleFQDN != b.RuleFQDN {
			return a.RuleFQDN < b.RuleFQDN
		}
		return a.ErrorKey < b.ErrorKey
	})

	logger.Info("content index loaded", "root", root, "entries", len(idx.entries))
	return idx, nil
}

// loadGroup reads every rule directory under rulesDir. group is "external"
// or "internal" and becomes part of the rule FQDN namespace.
func (idx *Index) loadGroup(rulesDir, group string) error {
	dirs, err := os.ReadDir(rulesDir)
	if err != nil {
		return fmt.Errorf("read rules dir %s: %w", rulesDir, err)
	}

	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		ruleDir := filepath.Join(rulesDir, d.Name())
		ruleFQDN := fmt.Sprintf("ccx_rules_ocp.%s.rules.%s", group, d.Name())

		if _, err := os.Stat(filepath.Join(ruleDir, "plugin.yaml")); err != nil {
			idx.logger.Warn("rule directory has no plugin.yaml, skipping", "rule", d.Name())
			continue
		}

		if err := idx.loadRule(ruleDir, ruleFQDN); err != nil {
			idx.logger.Warn("failed to load rule content", "rule", d.Name(), "error", err)
		}
	}
	return nil
}

// loadRule reads every error-key subdirectory of one rule directory.
func (idx *Index) loadRule(ruleDir, ruleFQDN string) error {
	subdirs, err := os.ReadDir(ruleDir)
	if err != nil {
		return fmt.Errorf("read rule dir: %w", err)
	}

	for _, d := range subdirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		entry, err := loadErrorKey(filepath.Join(ruleDir, d.Name()), ruleFQDN, d.Name())
		if err != nil {
			idx.logger.Warn("failed to parse error key directory",
				"rule", ruleFQDN, "errorKey", d.Name(), "error", err)
			continue
		}
		idx.add(entry)
	}
	return nil
}

// loadErrorKey merges metadata.yaml with the markdown fragments of one
// error-key directory into a RuleContent entry.
func loadErrorKey(dir, ruleFQDN, errorKey string) (*RuleContent, error) {
	meta := map[string]any{}
	metaPath := filepath.Join(dir, "metadata.yaml")
	if raw, err := os.ReadFile(metaPath); err == nil {
		if err := yaml.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("parse metadata.yaml: %w", err)
		}
	}

	fragments := map[string]string{}
	for _, name := range fragmentNames {
		raw, err := os.ReadFile(filepath.Join(dir, name+".md"))
		if err != nil {
			continue
		}
		fragments[name] = strings.TrimSpace(string(raw))
	}

	entry := &RuleContent{
		RuleFQDN:    ruleFQDN,
		ErrorKey:    errorKey,
		Description: fragments["generic"],
		Generic:     fragments["generic"],
		Reason:      fragments["reason"],
		Resolution:  fragments["resolution"],
		MoreInfo:    fragments["more_info"],
		TotalRisk:   intField(meta, "total_risk", 1),
		Likelihood:  intField(meta, "likelihood", 1),
		Impact:      NormalizeImpact(meta["impact"]),
		PublishDate: stringField(meta, "publish_date"),
		Tags:        stringSliceField(meta, "tags"),
	}
	if d := stringField(meta, "description"); d != "" {
		entry.Description = d
	}
	return entry, nil
}

func (idx *Index) add(entry *RuleContent) {
	idx.entries[ruleKey{entry.RuleFQDN, entry.ErrorKey}] = entry
	idx.all = append(idx.all, entry)
}

// Get returns the content entry for a rule and error key. A miss is not an
// error; callers substitute zero-valued template data.
func (idx *Index) Get(ruleFQDN, errorKey string) (*RuleContent, bool) {
	entry, ok := idx.entries[ruleKey{ruleFQDN, errorKey}]
	if !ok {
		idx.logger.Warn("content not found", "rule", ruleFQDN, "errorKey", errorKey)
	}
	return entry, ok
}

// All returns every loaded entry ordered by rule FQDN then error key.
// The returned slice must not be modified.
func (idx *Index) All() []*RuleContent { return idx.all }

// Len returns the number of loaded entries.
func (idx *Index) Len() int { return len(idx.entries) }

func intField(m map[string]any, key string, fallback int) int {
	v, ok := m[key]
	if !ok {
		return fallback
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	default:
		return fallback
	}
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
