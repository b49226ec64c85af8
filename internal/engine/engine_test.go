package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"compass/internal/classifier"
	"compass/internal/config"
	compasserrors "compass/internal/errors"
	"compass/internal/observability"
	"compass/internal/registry"
	"compass/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithLogOutput(io.Discard),
		WithMetrics(testMetrics(t)),
	}, opts...)
	e, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestBuiltinEngine(t *testing.T) {
	t.Parallel()
	e := newEngine(t, config.Default())

	sel, err := e.Select(context.Background(), "@test add coverage for the parser")
	require.NoError(t, err)
	assert.Equal(t, registry.ContextTesting, sel.Context)
	assert.Equal(t, []string{"core-principles", "communication", "testing-strategy", "test-isolation"}, sel.DirectiveIDs)
	for _, id := range sel.DirectiveIDs {
		assert.NotEmpty(t, sel.ResolvedContent[id], id)
	}

	res := e.Classify("good morning")
	assert.Equal(t, classifier.MethodDefaultFallback, res.Method)
	assert.Len(t, e.Builder.History(), 1)
}

func TestEngineRejectsRegistryWithMissingDirective(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_context: DEFAULT
always_apply: [core-principles]
contexts:
  - name: DEFAULT
  - name: CODING
    markers: ["@code"]
    directives: [missing-1]
`), 0o600))

	cfg := config.Default()
	cfg.Registry.Path = path
	_, err := New(context.Background(), cfg, WithLogOutput(io.Discard),
		WithMetrics(testMetrics(t)))
	require.Error(t, err)
	assert.True(t, compasserrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "missing-1")
}

func TestEngineWithSQLiteBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "directives.db")

	builtin, err := repository.Builtin()
	require.NoError(t, err)
	ids, err := builtin.List(ctx)
	require.NoError(t, err)
	store, err := repository.OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	n, err := store.Import(ctx, builtin, ids)
	require.NoError(t, err)
	require.Equal(t, len(ids), n)
	require.NoError(t, store.Close())

	cfg := config.Default()
	cfg.Repository = config.RepositoryConfig{Backend: "sqlite", DSN: dsn}
	e := newEngine(t, cfg)

	sel, err := e.Select(ctx, "@review the pull request")
	require.NoError(t, err)
	assert.Equal(t, registry.ContextReview, sel.Context)
	assert.Contains(t, sel.DirectiveIDs, "security-review")
}

func TestEngineWithFSBackend(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(registryPath, []byte(`
default_context: DEFAULT
always_apply: [base]
contexts:
  - name: DEFAULT
  - name: DOCS
    markers: ["@docs"]
    directives: [docs]
`), 0o600))
	directives := filepath.Join(dir, "directives")
	require.NoError(t, os.MkdirAll(directives, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(directives, "base.md"), []byte("# Base\nAlways."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(directives, "docs.md"), []byte("---\nid: docs\n---\n# Docs\nShort."), 0o600))

	cfg := config.Default()
	cfg.Registry.Path = registryPath
	cfg.Repository = config.RepositoryConfig{Backend: "fs", Dir: directives}
	e := newEngine(t, cfg)

	sel, err := e.Select(context.Background(), "@docs")
	require.NoError(t, err)
	assert.Equal(t, "# Docs\nShort.", sel.ResolvedContent["docs"])
}

func TestEngineFSDirectiveRemovedAfterStartup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(registryPath, []byte(`
default_context: DEFAULT
always_apply: [base]
contexts:
  - name: DEFAULT
  - name: DOCS
    markers: ["@docs"]
    directives: [docs]
`), 0o600))
	directives := filepath.Join(dir, "directives")
	require.NoError(t, os.MkdirAll(directives, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(directives, "base.md"), []byte("# Base\nAlways."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(directives, "docs.md"), []byte("# Docs\nShort."), 0o600))

	cfg := config.Default()
	cfg.Registry.Path = registryPath
	cfg.Repository = config.RepositoryConfig{Backend: "fs", Dir: directives}
	e := newEngine(t, cfg)

	require.NoError(t, os.Remove(filepath.Join(directives, "docs.md")))
	sel, err := e.Select(context.Background(), "@docs")
	require.Error(t, err)
	assert.Nil(t, sel)
	assert.True(t, compasserrors.IsDirectiveNotFound(err))
	assert.False(t, compasserrors.IsTransient(err))
	id, ok := compasserrors.DirectiveID(err)
	require.True(t, ok)
	assert.Equal(t, "docs", id)
	assert.Empty(t, e.Builder.History())
}

func TestEngineTimeoutConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Selection.Timeout = time.Second
	e := newEngine(t, cfg, WithRepository(mustBuiltin(t)))

	sel, err := e.Select(context.Background(), "@debug it crashes")
	require.NoError(t, err)
	assert.Equal(t, registry.ContextDebugging, sel.Context)
}

func TestOpenRepositoryErrors(t *testing.T) {
	t.Parallel()
	_, _, err := OpenRepository(context.Background(), config.RepositoryConfig{Backend: "fs", Dir: filepath.Join(t.TempDir(), "absent")})
	require.Error(t, err)

	_, _, err = OpenRepository(context.Background(), config.RepositoryConfig{Backend: "etcd"})
	require.Error(t, err)
}

func mustBuiltin(t *testing.T) repository.Repository {
	t.Helper()
	repo, err := repository.Builtin()
	require.NoError(t, err)
	return repo
}

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	m, err := observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}
