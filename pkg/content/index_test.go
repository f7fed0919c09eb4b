package content

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRule lays out one rule directory with a plugin.yaml, one error key
// directory, and the given files inside the error key directory.
func writeRule(t *testing.T, root, group, rule, errorKey string, files map[string]string) {
	t.Helper()
	keyDir := filepath.Join(root, group, "rules", rule, errorKey)
	require.NoError(t, os.MkdirAll(keyDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, group, "rules", rule, "plugin.yaml"),
		[]byte("plugin:\n  name: "+rule+"\n"), 0o644))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(keyDir, name), []byte(body), 0o644))
	}
}

func TestLoadMissingRoot(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "does-not-exist"), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	_, ok := idx.Get("ccx_rules_ocp.external.rules.anything", "KEY")
	assert.False(t, ok)
}

func TestLoadMergesMetadataAndFragments(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "external", "nodes_check", "NODES_FAILED", map[string]string{
		"metadata.yaml": "total_risk: 3\nlikelihood: 2\nimpact: high\npublish_date: \"2024-01-01\"\ntags: [node, stability]\n",
		"generic.md":    "Nodes are failing.\n",
		"reason.md":     "A node stopped reporting.\n",
		"resolution.md": "Restart the node.\n",
		"more_info.md":  "See the node docs.\n",
	})

	idx, err := Load(root, slog.Default())
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())

	entry, ok := idx.Get("ccx_rules_ocp.external.rules.nodes_check", "NODES_FAILED")
	require.True(t, ok)
	assert.Equal(t, "Nodes are failing.", entry.Generic)
	assert.Equal(t, "Nodes are failing.", entry.Description)
	assert.Equal(t, "A node stopped reporting.", entry.Reason)
	assert.Equal(t, "Restart the node.", entry.Resolution)
	assert.Equal(t, "See the node docs.", entry.MoreInfo)
	assert.Equal(t, 3, entry.TotalRisk)
	assert.Equal(t, 2, entry.Likelihood)
	assert.Equal(t, 3, entry.Impact)
	assert.Equal(t, "2024-01-01", entry.PublishDate)
	assert.Equal(t, []string{"node", "stability"}, entry.Tags)
	assert.True(t, entry.HasReason())
}

func TestLoadMissingFragmentsYieldEmptyStrings(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "internal", "etcd_check", "ETCD_SLOW", map[string]string{
		"metadata.yaml": "total_risk: 2\n",
	})

	idx, err := Load(root, slog.Default())
	require.NoError(t, err)

	entry, ok := idx.Get("ccx_rules_ocp.internal.rules.etcd_check", "ETCD_SLOW")
	require.True(t, ok)
	assert.Empty(t, entry.Generic)
	assert.Empty(t, entry.Reason)
	assert.Empty(t, entry.Resolution)
	assert.Equal(t, 2, entry.TotalRisk)
	assert.Equal(t, 1, entry.Likelihood)
	assert.False(t, entry.HasReason())
}

func TestLoadSkipsRuleWithoutPluginManifest(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "external", "good_rule", "GOOD_KEY", map[string]string{
		"generic.md": "ok\n",
	})

	// A rule directory with an error key but no plugin.yaml.
	badKey := filepath.Join(root, "external", "rules", "bad_rule", "BAD_KEY")
	require.NoError(t, os.MkdirAll(badKey, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badKey, "generic.md"), []byte("bad"), 0o644))

	idx, err := Load(root, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())

	_, ok := idx.Get("ccx_rules_ocp.external.rules.bad_rule", "BAD_KEY")
	assert.False(t, ok)
}

func TestLoadSkipsMalformedErrorKeyDirectory(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "external", "mixed_rule", "OK_KEY", map[string]string{
		"generic.md": "fine\n",
	})
	writeRule(t, root, "external", "mixed_rule", "BROKEN_KEY", map[string]string{
		"metadata.yaml": "::: not yaml {{{\n",
	})

	idx, err := Load(root, slog.Default())
	require.NoError(t, err)

	_, ok := idx.Get("ccx_rules_ocp.external.rules.mixed_rule", "OK_KEY")
	assert.True(t, ok)
	_, ok = idx.Get("ccx_rules_ocp.external.rules.mixed_rule", "BROKEN_KEY")
	assert.False(t, ok)
}

func TestLoadExternalAndInternalNamespaces(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "external", "same_name", "KEY", map[string]string{"generic.md": "ext\n"})
	writeRule(t, root, "internal", "same_name", "KEY", map[string]string{"generic.md": "int\n"})

	idx, err := Load(root, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	ext, ok := idx.Get("ccx_rules_ocp.external.rules.same_name", "KEY")
	require.True(t, ok)
	assert.Equal(t, "ext", ext.Generic)

	intl, ok := idx.Get("ccx_rules_ocp.internal.rules.same_name", "KEY")
	require.True(t, ok)
	assert.Equal(t, "int", intl.Generic)
}

func TestNormalizeImpact(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{"low", 1},
		{"medium", 2},
		{"high", 3},
		{"critical", 4},
		{"CRITICAL", 4},
		{"banana", 2},
		{3, 3},
		{3.0, 3},
		{"3", 3},
		{map[string]any{"impact": 4}, 4},
		{nil, 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeImpact(c.in), "input %v", c.in)
	}
}
