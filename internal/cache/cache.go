// Package cache keeps resolved directive bodies in memory under a byte
// ceiling, evicting the least recently used entries first.
package cache

import (
	"context"
	"math"
	"sync"
	"time"

	compasserrors "compass/internal/errors"
	"compass/internal/shared/logging"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxBytes is used when New is given a nonpositive ceiling.
const DefaultMaxBytes int64 = 1 << 20

// Loader fetches directive bodies on a miss.
type Loader interface {
	Get(ctx context.Context, id string) (string, error)
}

// Observer receives cache events. Calls happen outside the cache lock.
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEvicted(count int)
	CacheResident(bytes int64)
}

type nopObserver struct{}

func (nopObserver) CacheHit() {}
func (nopObserver) CacheMiss() {}
func (nopObserver) CacheEvicted(int) {}
func (nopObserver) CacheResident(int64) {}

type entry struct {
	content    string
	size       int64
	lastUsedAt time.Time
}

// EntryInfo is a content-free view of one resident entry.
type EntryInfo struct {
	ID         string    `json:"id"`
	Size       int64     `json:"size"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries       int    `json:"entries"`
	ResidentBytes int64  `json:"resident_bytes"`
	MaxBytes      int64  `json:"max_bytes"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	Oversize      uint64 `json:"oversize"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Cache) { c.logger = logging.OrNop(logger) }
}

// WithObserver routes cache events to o.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides the time source used for lastUsedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache is safe for concurrent use. All bookkeeping happens under one mutex;
// repository I/O happens outside it, and concurrent misses for the same id
// share a single load.
type Cache struct {
	loader   Loader
	maxBytes int64
	logger   logging.Logger
	observer Observer
	now      func() time.Time
	flight   singleflight.Group

	mu        sync.Mutex
	lru       *simplelru.LRU[string, *entry]
	resident  int64
	hits      uint64
	misses    uint64
	evictions uint64
	oversize  uint64
}

// New builds a cache in front of loader holding at most maxBytes of content.
func New(loader Loader, maxBytes int64, opts ...Option) *Cache {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	// Eviction is by bytes, so the entry-count bound is never the limiting one.
	lru, err := simplelru.NewLRU[string, *entry](math.MaxInt32, nil)
	if err != nil {
		panic(err)
	}
	c := &Cache{
		loader:   loader,
		maxBytes: maxBytes,
		logger:   logging.Nop(),
		observer: nopObserver{},
		now:      time.Now,
		lru:      lru,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// GetOrLoad returns the body for id, loading it through the Loader on a miss.
// Loader errors come back as *errors.DirectiveNotFoundError or
// *errors.RepositoryUnavailableError. Concurrent misses for one id share a
// single load that runs detached from any caller's cancellation; each caller
// stops waiting only when its own ctx is done.
func (c *Cache) GetOrLoad(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	if e, ok := c.lru.Get(id); ok {
		e.lastUsedAt = c.now()
		c.hits++
		content := e.content
		c.mu.Unlock()
		c.observer.CacheHit()
		return content, nil
	}
	c.misses++
	c.mu.Unlock()
	c.observer.CacheMiss()

	loadCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(id, func() (interface{}, error) {
		c.mu.Lock()
		if e, ok := c.lru.Get(id); ok {
			e.lastUsedAt = c.now()
			content := e.content
			c.mu.Unlock()
			return content, nil
		}
		c.mu.Unlock()

		content, err := c.loader.Get(loadCtx, id)
		if err != nil {
			return "", compasserrors.FromRepository(id, err)
		}
		c.insert(id, content)
		return content, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// insert stores content for id, evicting least recently used entries until it
// fits. Content larger than the whole ceiling is not stored and evicts nothing.
func (c *Cache) insert(id, content string) {
	size := int64(len(content))
	if size > c.maxBytes {
		c.mu.Lock()
		c.oversize++
		c.mu.Unlock()
		c.logger.Warn("directive %s (%d bytes) exceeds cache ceiling %d; serving uncached", id, size, c.maxBytes)
		return
	}

	c.mu.Lock()
	if prev, ok := c.lru.Peek(id); ok {
		c.resident -= prev.size
		c.lru.Remove(id)
	}
	var evicted []string
	for c.resident+size > c.maxBytes {
		key, old, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.resident -= old.size
		c.evictions++
		evicted = append(evicted, key)
	}
	c.lru.Add(id, &entry{content: content, size: size, lastUsedAt: c.now()})
	c.resident += size
	resident := c.resident
	c.mu.Unlock()

	if len(evicted) > 0 {
		c.logger.Debug("evicted %v to admit %s (%d bytes)", evicted, id, size)
		c.observer.CacheEvicted(len(evicted))
	}
	c.observer.CacheResident(resident)
}

// Contains reports whether id is resident without touching its recency.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(id)
}

// ResidentBytes returns the total size of resident content.
func (c *Cache) ResidentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident
}

// MaxBytes returns the configured ceiling.
func (c *Cache) MaxBytes() int64 { return c.maxBytes }

// Entries lists resident entries from least to most recently used.
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.lru.Keys()
	out := make([]EntryInfo, 0, len(keys))
	for _, key := range keys {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		out = append(out, EntryInfo{ID: key, Size: e.size, LastUsedAt: e.lastUsedAt})
	}
	return out
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:       c.lru.Len(),
		ResidentBytes: c.resident,
		MaxBytes:      c.maxBytes,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Oversize:      c.oversize,
	}
}

// Purge drops every entry. Counters are kept.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.lru.Purge()
	c.resident = 0
	c.mu.Unlock()
	c.observer.CacheResident(0)
}
