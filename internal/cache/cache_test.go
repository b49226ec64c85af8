package cache

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	compasserrors "compass/internal/errors"
	"compass/internal/repository"
	"compass/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(n int) string { return strings.Repeat("x", n) }

func ids(entries []EntryInfo) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type recordingObserver struct {
	hits, misses, evicted atomic.Int64
	resident              atomic.Int64
}

func (o *recordingObserver) CacheHit() { o.hits.Add(1) }
func (o *recordingObserver) CacheMiss() { o.misses.Add(1) }
func (o *recordingObserver) CacheEvicted(n int) { o.evicted.Add(int64(n)) }
func (o *recordingObserver) CacheResident(b int64) { o.resident.Store(b) }

func TestHitDoesNotCallRepository(t *testing.T) {
	t.Parallel()
	repo := repotest.NewCounting(repository.NewMemory(map[string]string{"a": "alpha body"}))
	c := New(repo, 1024)
	ctx := context.Background()

	first, err := c.GetOrLoad(ctx, "a")
	require.NoError(t, err)
	second, err := c.GetOrLoad(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.Calls("a"))
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(len("alpha body")), stats.ResidentBytes)
}

func TestEvictionRefetches(t *testing.T) {
	t.Parallel()
	repo := repotest.NewCounting(repository.NewMemory(map[string]string{
		"A": body(60),
		"B": body(60),
	}))
	c := New(repo, 100)
	ctx := context.Background()

	_, err := c.GetOrLoad(ctx, "A")
	require.NoError(t, err)
	_, err = c.GetOrLoad(ctx, "B")
	require.NoError(t, err)

	assert.False(t, c.Contains("A"))
	assert.True(t, c.Contains("B"))
	assert.Equal(t, int64(60), c.ResidentBytes())

	_, err = c.GetOrLoad(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.Calls("A"))
	assert.Equal(t, uint64(2), c.Stats().Evictions)
}

func TestEvictsExactlyLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	repo := repository.NewMemory(map[string]string{
		"a": body(30), "b": body(30), "c": body(30), "d": body(30), "e": body(50),
	})
	c := New(repo, 100)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := c.GetOrLoad(ctx, id)
		require.NoError(t, err)
	}
	_, err := c.GetOrLoad(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, ids(c.Entries()))

	_, err = c.GetOrLoad(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "d"}, ids(c.Entries()))

	_, err = c.GetOrLoad(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, ids(c.Entries()))
	assert.Equal(t, int64(80), c.ResidentBytes())
	assert.Equal(t, uint64(3), c.Stats().Evictions)
}

func TestResidentBytesNeverExceedCeiling(t *testing.T) {
	t.Parallel()
	const ceiling = 200
	bodies := make(map[string]string)
	rng := rand.New(rand.NewSource(42))
	var keys []string
	for i := 0; i < 40; i++ {
		id := string(rune('A'+i%26)) + string(rune('a'+i/26))
		bodies[id] = body(1 + rng.Intn(90))
		keys = append(keys, id)
	}
	c := New(repository.NewMemory(bodies), ceiling)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		id := keys[rng.Intn(len(keys))]
		got, err := c.GetOrLoad(ctx, id)
		require.NoError(t, err)
		require.Equal(t, bodies[id], got)
		require.LessOrEqual(t, c.ResidentBytes(), int64(ceiling))

		var sum int64
		for _, e := range c.Entries() {
			sum += e.Size
		}
		require.Equal(t, c.ResidentBytes(), sum)
	}
}

func TestOversizeEntryServedUncached(t *testing.T) {
	t.Parallel()
	repo := repotest.NewCounting(repository.NewMemory(map[string]string{
		"small": body(40),
		"huge":  body(500),
	}))
	c := New(repo, 100)
	ctx := context.Background()

	_, err := c.GetOrLoad(ctx, "small")
	require.NoError(t, err)

	got, err := c.GetOrLoad(ctx, "huge")
	require.NoError(t, err)
	assert.Len(t, got, 500)
	assert.False(t, c.Contains("huge"))
	assert.True(t, c.Contains("small"), "oversize entry must not evict anything")
	assert.Equal(t, uint64(1), c.Stats().Oversize)

	_, err = c.GetOrLoad(ctx, "huge")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.Calls("huge"))
}

func TestRepositoryErrorsAreClassified(t *testing.T) {
	t.Parallel()
	repo := repotest.NewFailing(repository.NewMemory(map[string]string{"flaky": "ok"}))
	repo.FailOn("flaky", errors.New("disk read failed"))
	c := New(repo, 100)
	ctx := context.Background()

	_, err := c.GetOrLoad(ctx, "missing-1")
	require.Error(t, err)
	assert.True(t, compasserrors.IsDirectiveNotFound(err))
	id, ok := compasserrors.DirectiveID(err)
	require.True(t, ok)
	assert.Equal(t, "missing-1", id)

	_, err = c.GetOrLoad(ctx, "flaky")
	require.Error(t, err)
	assert.True(t, compasserrors.IsRepositoryUnavailable(err))
	assert.False(t, c.Contains("flaky"))

	repo.FailOn("flaky", nil)
	got, err := c.GetOrLoad(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	t.Parallel()
	blocking := repotest.NewBlocking(repository.NewMemory(map[string]string{"a": "alpha"}))
	counting := repotest.NewCounting(blocking)
	c := New(counting, 100)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrLoad(ctx, "a")
		}(i)
	}

	select {
	case <-blocking.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("load never started")
	}
	time.Sleep(20 * time.Millisecond)
	blocking.Release()
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "alpha", results[i])
	}
	assert.Equal(t, 1, counting.Calls("a"))
}

func TestConcurrentAccessKeepsInvariants(t *testing.T) {
	t.Parallel()
	bodies := map[string]string{}
	for i := 0; i < 20; i++ {
		bodies[string(rune('a'+i))] = body(10 + i)
	}
	c := New(repository.NewMemory(bodies), 120)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 300; i++ {
				id := string(rune('a' + rng.Intn(20)))
				got, err := c.GetOrLoad(ctx, id)
				if err != nil || got != bodies[id] {
					t.Errorf("GetOrLoad(%s) = %d bytes, %v", id, len(got), err)
					return
				}
				if c.ResidentBytes() > 120 {
					t.Errorf("resident %d exceeds ceiling", c.ResidentBytes())
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()
}

func TestHitRefreshesLastUsedAt(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(repository.NewMemory(map[string]string{"a": "1", "b": "2"}), 100, WithClock(clock.Now))
	ctx := context.Background()

	_, err := c.GetOrLoad(ctx, "a")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = c.GetOrLoad(ctx, "b")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = c.GetOrLoad(ctx, "a")
	require.NoError(t, err)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, clock.Now().Add(-time.Minute), entries[0].LastUsedAt)
	assert.Equal(t, "a", entries[1].ID)
	assert.Equal(t, clock.Now(), entries[1].LastUsedAt)
}

func TestContainsAndEntriesDoNotTouchRecency(t *testing.T) {
	t.Parallel()
	c := New(repository.NewMemory(map[string]string{"a": body(50), "b": body(50), "c": body(50)}), 100)
	ctx := context.Background()

	_, _ = c.GetOrLoad(ctx, "a")
	_, _ = c.GetOrLoad(ctx, "b")
	assert.True(t, c.Contains("a"))
	_ = c.Entries()
	_, _ = c.GetOrLoad(ctx, "c")

	assert.Equal(t, []string{"b", "c"}, ids(c.Entries()))
}

func TestPurgeAndObserver(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	c := New(repository.NewMemory(map[string]string{"a": body(60), "b": body(60)}), 100, WithObserver(obs), WithLogger(nil))
	ctx := context.Background()

	_, _ = c.GetOrLoad(ctx, "a")
	_, _ = c.GetOrLoad(ctx, "a")
	_, _ = c.GetOrLoad(ctx, "b")

	assert.Equal(t, int64(1), obs.hits.Load())
	assert.Equal(t, int64(2), obs.misses.Load())
	assert.Equal(t, int64(1), obs.evicted.Load())
	assert.Equal(t, int64(60), obs.resident.Load())

	c.Purge()
	assert.Zero(t, c.ResidentBytes())
	assert.Empty(t, c.Entries())
	assert.Equal(t, int64(0), obs.resident.Load())
	assert.Equal(t, uint64(1), c.Stats().Hits)
}

func TestDefaultCeiling(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultMaxBytes, New(repository.NewMemory(nil), 0).MaxBytes())
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()
	blocking := repotest.NewBlocking(repository.NewMemory(map[string]string{"a": "alpha"}))
	c := New(blocking, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetOrLoad(ctx, "a")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, compasserrors.IsRepositoryUnavailable(err))
}

func TestCallerCancelDoesNotFailSharedLoad(t *testing.T) {
	t.Parallel()
	blocking := repotest.NewBlocking(repository.NewMemory(map[string]string{"a": "alpha"}))
	counting := repotest.NewCounting(blocking)
	c := New(counting, 100)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(ctxA, "a")
		errA <- err
	}()
	select {
	case <-blocking.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("load never started")
	}

	type outcome struct {
		body string
		err  error
	}
	doneB := make(chan outcome, 1)
	go func() {
		got, err := c.GetOrLoad(context.Background(), "a")
		doneB <- outcome{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	blocking.Release()
	select {
	case out := <-doneB:
		require.NoError(t, out.err)
		assert.Equal(t, "alpha", out.body)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, 1, counting.Calls("a"))
	assert.True(t, c.Contains("a"))
}

// insertOnMiss stores entries between a caller's miss and its load, the way a
// concurrent load finishing first would.
type insertOnMiss struct {
	nopObserver
	c     *Cache
	clock *fakeClock
	once  sync.Once
}

func (o *insertOnMiss) CacheMiss() {
	o.once.Do(func() {
		o.c.insert("a", "1")
		o.c.insert("b", "2")
		o.clock.Advance(time.Minute)
	})
}

func TestLoadRecheckRefreshesRecency(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	counting := repotest.NewCounting(repository.NewMemory(map[string]string{"a": "1", "b": "2"}))
	obs := &insertOnMiss{clock: clock}
	c := New(counting, 100, WithClock(clock.Now), WithObserver(obs))
	obs.c = c

	got, err := c.GetOrLoad(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
	assert.Zero(t, counting.Total())

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"b", "a"}, ids(entries))
	assert.Equal(t, clock.Now(), entries[1].LastUsedAt)
}
