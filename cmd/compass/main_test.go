package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes the root command with an isolated config file.
func run(t *testing.T, cfgYAML string, stdin string, args ...string) (string, string, error) {
	t.Helper()
	if cfgYAML == "" {
		cfgYAML = "observability:\n  logging:\n    level: error\n"
	}
	cfgPath := writeFile(t, t.TempDir(), "compass.yaml", cfgYAML)

	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestSelectMarkdown(t *testing.T) {
	out, errOut, err := run(t, "", "", "select", "@test", "add", "coverage")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<!-- compass context=TESTING method=explicit_marker directives=4 -->"))
	order := []string{"## core-principles", "## communication", "## testing-strategy", "## test-isolation"}
	last := -1
	for _, heading := range order {
		idx := strings.Index(out, heading)
		require.GreaterOrEqual(t, idx, 0, heading)
		assert.Greater(t, idx, last, heading)
		last = idx
	}
	assert.Contains(t, errOut, "TESTING via explicit_marker, 4 directives")
}

func TestSelectReadsStdin(t *testing.T) {
	out, _, err := run(t, "", "the server crashes with a stack trace", "select", "--json")
	require.NoError(t, err)

	var doc struct {
		Selection struct {
			Context      string   `json:"context"`
			Method       string   `json:"method"`
			DirectiveIDs []string `json:"directive_ids"`
		} `json:"selection"`
		Content map[string]string `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "DEBUGGING", doc.Selection.Context)
	assert.Equal(t, "pattern_score", doc.Selection.Method)
	assert.Equal(t, []string{"core-principles", "communication", "debugging-method", "root-cause-analysis", "error-handling"}, doc.Selection.DirectiveIDs)
	assert.Len(t, doc.Content, 5)
}

func TestClassify(t *testing.T) {
	out, _, err := run(t, "", "", "classify", "please", "refactor", "this", "function")
	require.NoError(t, err)
	assert.Contains(t, out, "context: CODING")
	assert.Contains(t, out, "method:  pattern_score")
	assert.Contains(t, out, "refactor, function")
	assert.Contains(t, out, "CODING     3")

	out, _, err = run(t, "", "", "classify", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "context: DEFAULT")
	assert.Contains(t, out, "default_fallback")
	assert.NotContains(t, out, "scores:")
}

func TestValidate(t *testing.T) {
	out, _, err := run(t, "", "", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: builtin:registry.yaml: 6 contexts")
	assert.Contains(t, out, "digest ")
}

func TestValidateReportsMissingDirective(t *testing.T) {
	dir := t.TempDir()
	regPath := writeFile(t, dir, "registry.yaml", `version: 1
default_context: DEFAULT
always_apply: [core-principles]
contexts:
  - name: DEFAULT
  - name: CODING
    markers: ["@code"]
    directives: [no-such-directive]
`)
	out, _, err := run(t, "", "", "validate", "--registry", regPath)
	require.Error(t, err)
	assert.Contains(t, out, "missing-directive")
	assert.Contains(t, out, "no-such-directive")
}

func TestValidateReportsBadConfig(t *testing.T) {
	out, _, err := run(t, "cache:\n  max_bytes: 0\n", "", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "cache.max_bytes")
	assert.Contains(t, out, "COMPASS_CACHE_MAX_BYTES")
}

func TestImportThenSelectFromSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "directives.db")

	out, _, err := run(t, "", "", "import", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 11 directives from builtin")

	cfg := "repository:\n  backend: sqlite\n  dsn: " + dsn + "\nobservability:\n  logging:\n    level: error\n"
	out, _, err = run(t, cfg, "", "select", "@review", "this", "diff")
	require.NoError(t, err)
	assert.Contains(t, out, "context=REVIEW")
	assert.Contains(t, out, "## security-review")
}

func TestImportFromDirectory(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "house-style.md", "---\nid: house-style\n---\n# House style\n\nTabs.\n")
	dsn := filepath.Join(t.TempDir(), "directives.db")

	out, _, err := run(t, "", "", "import", "--dsn", dsn, "--from", src)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 directives")
}

func TestImportRequiresDSN(t *testing.T) {
	_, _, err := run(t, "", "", "import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--dsn")
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "", "", "version")
	require.NoError(t, err)
	assert.Equal(t, "compass dev (none)\n", out)
}
