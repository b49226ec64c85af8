package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	compasserrors "compass/internal/errors"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.md
var builtinFS embed.FS

// DirectiveFile describes one Markdown directive discovered in an FSRepository.
type DirectiveFile struct {
	ID          string
	Description string
	Title       string
	Path        string
}

// FSRepository serves directive bodies from Markdown files in an fs.FS.
//
// Each *.md / *.mdx file is one directive. The id comes from the `id` front
// matter key and defaults to the file name without extension. The index is
// built once; bodies are read from the filesystem on every Get, and a file
// removed since indexing is reported as not found.
type FSRepository struct {
	fsys  fs.FS
	files map[string]DirectiveFile
	ids   []string
}

type frontMatter struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

// NewFS indexes every Markdown file under fsys.
func NewFS(fsys fs.FS) (*FSRepository, error) {
	files := make(map[string]DirectiveFile)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isMarkdownFile(d.Name()) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read directive %s: %w", p, err)
		}
		meta, body, err := parseDirective(data)
		if err != nil {
			return fmt.Errorf("parse directive %s: %w", p, err)
		}
		id := NormalizeID(meta.ID)
		if id == "" {
			id = strings.TrimSuffix(path.Base(p), path.Ext(p))
		}
		if prev, exists := files[id]; exists {
			return fmt.Errorf("duplicate directive id %q in %s (already in %s)", id, p, prev.Path)
		}
		title := extractMarkdownTitle(body)
		if title == "" {
			title = id
		}
		files[id] = DirectiveFile{
			ID:          id,
			Description: strings.TrimSpace(meta.Description),
			Title:       title,
			Path:        p,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &FSRepository{fsys: fsys, files: files, ids: ids}, nil
}

// Builtin returns the directive set shipped with the binary.
func Builtin() (*FSRepository, error) {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return nil, err
	}
	return NewFS(sub)
}

func (r *FSRepository) Get(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	file, ok := r.files[NormalizeID(id)]
	if !ok {
		return "", &compasserrors.DirectiveNotFoundError{ID: id}
	}
	data, err := fs.ReadFile(r.fsys, file.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &compasserrors.DirectiveNotFoundError{ID: id, Err: fmt.Errorf("%w: %w", compasserrors.ErrNotFound, err)}
	}
	if err != nil {
		return "", &compasserrors.RepositoryUnavailableError{ID: id, Err: err}
	}
	_, body, err := parseDirective(data)
	if err != nil {
		return "", &compasserrors.RepositoryUnavailableError{ID: id, Err: err}
	}
	return body, nil
}

// Exists checks the file itself, so a directive removed after NewFS reports false.
func (r *FSRepository) Exists(_ context.Context, id string) (bool, error) {
	file, ok := r.files[NormalizeID(id)]
	if !ok {
		return false, nil
	}
	_, err := fs.Stat(r.fsys, file.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &compasserrors.RepositoryUnavailableError{ID: id, Err: err}
	}
	return true, nil
}

func (r *FSRepository) List(context.Context) ([]string, error) {
	return append([]string(nil), r.ids...), nil
}

// File returns the indexed metadata for id.
func (r *FSRepository) File(id string) (DirectiveFile, bool) {
	file, ok := r.files[NormalizeID(id)]
	return file, ok
}

func parseDirective(data []byte) (frontMatter, string, error) {
	content := strings.TrimPrefix(string(data), "\uFEFF")
	content = strings.ReplaceAll(content, "\r\n", "\n")

	metaText, bodyText, hasFrontMatter := splitFrontMatter(content)
	var meta frontMatter
	if hasFrontMatter {
		if err := yaml.Unmarshal([]byte(metaText), &meta); err != nil {
			return frontMatter{}, "", fmt.Errorf("front matter: %w", err)
		}
	}
	return meta, strings.TrimSpace(bodyText), nil
}

func splitFrontMatter(content string) (string, string, bool) {
	lines := strings.Split(content, "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[0]) != "---" {
		return "", content, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			meta := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return meta, body, true
		}
	}
	return "", content, false
}

func extractMarkdownTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "<!--") {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
		break
	}
	return ""
}

func isMarkdownFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".mdx")
}
