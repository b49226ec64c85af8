package repository

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"

	compasserrors "compass/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory(map[string]string{" alpha ": "A"})

	body, err := repo.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "A", body)

	ok, err := repo.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.Get(ctx, "beta")
	require.Error(t, err)
	assert.True(t, compasserrors.IsDirectiveNotFound(err))
	assert.True(t, errors.Is(err, compasserrors.ErrNotFound))

	repo.Put("beta", "B")
	repo.Delete("alpha")
	ids, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, ids)
}

func TestFSRepositoryIndexesFrontMatterAndStem(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{
		"style.md": {Data: []byte("---\nid: docs-style\ndescription: Docs\n---\n# Docs Style\n\nShort sentences.\n")},
		"nested/plain.md": {Data: []byte("Plain body without front matter.\n")},
		"notes.txt":       {Data: []byte("ignored")},
	}

	repo, err := NewFS(fsys)
	require.NoError(t, err)

	ids, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs-style", "plain"}, ids)

	body, err := repo.Get(ctx, "docs-style")
	require.NoError(t, err)
	assert.Equal(t, "# Docs Style\n\nShort sentences.", body)

	file, ok := repo.File("docs-style")
	require.True(t, ok)
	assert.Equal(t, "Docs Style", file.Title)
	assert.Equal(t, "Docs", file.Description)

	plain, err := repo.Get(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "Plain body without front matter.", plain)

	_, err = repo.Get(ctx, "notes")
	assert.True(t, compasserrors.IsDirectiveNotFound(err))
}

func TestFSRepositoryRejectsDuplicateIDs(t *testing.T) {
	fsys := fstest.MapFS{
		"a.md": {Data: []byte("---\nid: same\n---\nA\n")},
		"b.md": {Data: []byte("---\nid: same\n---\nB\n")},
	}
	_, err := NewFS(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate directive id "same"`)
}

func TestFSRepositoryRemovedFileIsNotFound(t *testing.T) {
	fsys := fstest.MapFS{"gone.md": {Data: []byte("body")}}
	repo, err := NewFS(fsys)
	require.NoError(t, err)
	ctx := context.Background()

	delete(fsys, "gone.md")
	ok, err := repo.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Get(ctx, "gone")
	require.Error(t, err)
	id, found := compasserrors.DirectiveID(err)
	require.True(t, found)
	assert.Equal(t, "gone", id)
	assert.True(t, compasserrors.IsDirectiveNotFound(err))
	assert.False(t, compasserrors.IsRepositoryUnavailable(err))
	assert.False(t, compasserrors.IsTransient(err))
	assert.True(t, errors.Is(err, compasserrors.ErrNotFound))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

// lockedFS fails every Open once locked is set.
type lockedFS struct {
	fsys   fs.FS
	locked bool
}

func (l *lockedFS) Open(name string) (fs.File, error) {
	if l.locked {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
	}
	return l.fsys.Open(name)
}

func TestFSRepositoryReportsUnreadableFileAsUnavailable(t *testing.T) {
	fsys := &lockedFS{fsys: fstest.MapFS{"locked.md": {Data: []byte("body")}}}
	repo, err := NewFS(fsys)
	require.NoError(t, err)
	ctx := context.Background()

	fsys.locked = true
	_, err = repo.Get(ctx, "locked")
	require.Error(t, err)
	assert.True(t, compasserrors.IsRepositoryUnavailable(err))
	assert.True(t, compasserrors.IsTransient(err))

	_, err = repo.Exists(ctx, "locked")
	assert.True(t, compasserrors.IsRepositoryUnavailable(err))
}

func TestBuiltinDirectives(t *testing.T) {
	repo, err := Builtin()
	require.NoError(t, err)

	for _, id := range []string{"core-principles", "communication", "coding-standards", "review-checklist"} {
		ok, err := repo.Exists(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "directives.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.Put(ctx, "alpha", "first"))
	require.NoError(t, repo.Put(ctx, "alpha", "second"))

	body, err := repo.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "second", body)

	ok, err := repo.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, compasserrors.IsDirectiveNotFound(err))
	id, found := compasserrors.DirectiveID(err)
	assert.True(t, found)
	assert.Equal(t, "missing", id)
}

func TestSQLiteImportFromBuiltin(t *testing.T) {
	ctx := context.Background()
	src, err := Builtin()
	require.NoError(t, err)
	ids, err := src.List(ctx)
	require.NoError(t, err)

	dst, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })

	n, err := dst.Import(ctx, src, ids)
	require.NoError(t, err)
	assert.Equal(t, len(ids), n)

	got, err := dst.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	want, _ := src.Get(ctx, "core-principles")
	body, err := dst.Get(ctx, "core-principles")
	require.NoError(t, err)
	assert.Equal(t, want, body)
}

func TestSQLiteOpenRequiresPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "  ")
	require.Error(t, err)
}
