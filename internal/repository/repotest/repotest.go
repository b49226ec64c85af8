// Package repotest provides Repository doubles for tests.
package repotest

import (
	"context"
	"sync"

	"compass/internal/repository"
)

// Counting wraps a Repository and records Get calls per id.
type Counting struct {
	repository.Repository

	mu    sync.Mutex
	calls map[string]int
	total int
}

// NewCounting wraps inner.
func NewCounting(inner repository.Repository) *Counting {
	return &Counting{Repository: inner, calls: make(map[string]int)}
}

func (c *Counting) Get(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	c.calls[id]++
	c.total++
	c.mu.Unlock()
	return c.Repository.Get(ctx, id)
}

// Calls returns how many times Get was invoked for id.
func (c *Counting) Calls(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

// Total returns the number of Get calls across all ids.
func (c *Counting) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Failing wraps a Repository and returns a fixed error for selected ids.
type Failing struct {
	repository.Repository

	mu       sync.RWMutex
	failures map[string]error
}

// NewFailing wraps inner with no failures configured.
func NewFailing(inner repository.Repository) *Failing {
	return &Failing{Repository: inner, failures: make(map[string]error)}
}

// FailOn makes Get(id) return err until cleared with a nil err.
func (f *Failing) FailOn(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, id)
		return
	}
	f.failures[id] = err
}

func (f *Failing) Get(ctx context.Context, id string) (string, error) {
	f.mu.RLock()
	err := f.failures[id]
	f.mu.RUnlock()
	if err != nil {
		return "", err
	}
	return f.Repository.Get(ctx, id)
}

// Blocking wraps a Repository and holds every Get until Release is called.
type Blocking struct {
	repository.Repository

	release chan struct{}
	once    sync.Once
	started chan string
}

// NewBlocking wraps inner; started receives each id as its Get begins.
func NewBlocking(inner repository.Repository) *Blocking {
	return &Blocking{
		Repository: inner,
		release:    make(chan struct{}),
		started:    make(chan string, 64),
	}
}

// Started reports ids whose Get call is waiting.
func (b *Blocking) Started() <-chan string { return b.started }

// Release unblocks all current and future Get calls.
func (b *Blocking) Release() { b.once.Do(func() { close(b.release) }) }

func (b *Blocking) Get(ctx context.Context, id string) (string, error) {
	select {
	case b.started <- id:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return b.Repository.Get(ctx, id)
}
