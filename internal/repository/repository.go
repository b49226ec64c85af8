// Package repository provides read-only directive stores.
//
// A Repository maps directive ids to Markdown bodies. The engine never writes
// through this interface; stores that can be seeded (SQLite) expose their own
// write methods for tooling.
package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	compasserrors "compass/internal/errors"
)

// Repository is the directive content store consumed by the cache.
// Get returns an error wrapping compasserrors.ErrNotFound for unknown ids.
type Repository interface {
	Get(ctx context.Context, id string) (string, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Lister is implemented by repositories that can enumerate their ids.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// MemoryRepository is a map-backed Repository, safe for concurrent use.
type MemoryRepository struct {
	mu         sync.RWMutex
	directives map[string]string
}

// NewMemory returns a MemoryRepository seeded with a copy of directives.
func NewMemory(directives map[string]string) *MemoryRepository {
	copied := make(map[string]string, len(directives))
	for id, body := range directives {
		copied[NormalizeID(id)] = body
	}
	return &MemoryRepository{directives: copied}
}

func (m *MemoryRepository) Get(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.directives[NormalizeID(id)]
	if !ok {
		return "", &compasserrors.DirectiveNotFoundError{ID: id}
	}
	return body, nil
}

func (m *MemoryRepository) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.directives[NormalizeID(id)]
	return ok, nil
}

func (m *MemoryRepository) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.directives))
	for id := range m.directives {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Put stores or replaces a directive body.
func (m *MemoryRepository) Put(id, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directives[NormalizeID(id)] = body
}

// Delete removes a directive, simulating repository drift after startup.
func (m *MemoryRepository) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.directives, NormalizeID(id))
}

// NormalizeID trims surrounding whitespace; ids are otherwise case-sensitive.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}
