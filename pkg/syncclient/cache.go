// Package syncclient keeps a client eventually consistent with the ticket
// service without a push channel. A keyed cache holds the last-known server
// state per logical query; a poller refreshes it on an interval; mutations
// update it optimistically and roll back on failure.
package syncclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the current server state for one cache key.
type FetchFunc func(ctx context.Context) (any, error)

// ErrStaleFetch marks a fetch whose result was discarded because an
// optimistic write (or invalidation) for the same key began after the fetch
// started. The fresh state arrives with the refetch triggered once the
// mutation settles.
var ErrStaleFetch = errors.New("syncclient: stale fetch result discarded")

// ErrNoFetcher is returned when a key has no registered fetch function.
var ErrNoFetcher = errors.New("syncclient: no fetcher registered for key")

// Snapshot is the last-known state for a cache key. Value stays populated
// across failed refreshes (stale-while-revalidate), so consumers can
// distinguish loading, error-with-prior-data and error-with-no-data.
type Snapshot struct {
	Value     any
	Err       error
	UpdatedAt time.Time
	Loading   bool
}

// HasValue reports whether any server state has ever been stored.
func (s Snapshot) HasValue() bool { return s.Value != nil }

// Stale reports error-with-prior-data: the value shown predates a failure.
func (s Snapshot) Stale() bool { return s.Value != nil && s.Err != nil }

type entry struct {
	value     any
	err       error
	updatedAt time.Time
	loading   int
	// epoch is bumped by every optimistic write and invalidation; a fetch
	// records it at start and discards its result on mismatch.
	epoch    uint64
	prior    any
	priorSet bool
}

// Cache is the shared mutable state between all sync client instances. All
// writes go through Fetch, BeginOptimistic and Invalidate so rollback
// semantics stay sound; entries are replaced wholesale, never merged.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	fetchers map[string]FetchFunc
	group    singleflight.Group
}

// NewCache initializes an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries:  make(map[string]*entry),
		fetchers: make(map[string]FetchFunc),
	}
}

// Register binds a fetch function to a key so invalidations can refetch it.
// Registering again replaces the previous fetcher.
func (c *Cache) Register(key string, fn FetchFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[key] = fn
}

// Get returns the current snapshot without touching the network.
func (c *Cache) Get(key string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}
	}
	return snapshotOf(e)
}

// Fetch refreshes a key. Concurrent fetches for the same key are collapsed
// into one request. On success the snapshot is replaced in full; on failure
// the prior value is kept and the error recorded alongside it.
func (c *Cache) Fetch(ctx context.Context, key string, fn FetchFunc) (Snapshot, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	start := e.epoch
	e.loading++
	c.mu.Unlock()

	value, err, _ := c.group.Do(key, func() (any, error) {
		return fn(ctx)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	e.loading--

	if e.epoch != start {
		// A write began while this fetch was in flight; the response may
		// predate it and must not clobber the optimistic value.
		return snapshotOf(e), ErrStaleFetch
	}

	if err != nil {
		e.err = err
		return snapshotOf(e), err
	}
	e.value = value
	e.err = nil
	e.updatedAt = time.Now()
	return snapshotOf(e), nil
}

// FetchRegistered refreshes a key through its registered fetcher.
func (c *Cache) FetchRegistered(ctx context.Context, key string) (Snapshot, error) {
	c.mu.Lock()
	fn, ok := c.fetchers[key]
	c.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNoFetcher
	}
	return c.Fetch(ctx, key, fn)
}

// OptimisticWrite tracks one unsettled optimistic mutation on a key.
type OptimisticWrite struct {
	cache   *Cache
	key     string
	settled bool
}

// BeginOptimistic applies the anticipated post-mutation state to the cached
// value and remembers the prior snapshot for rollback. In-flight fetches for
// the key are invalidated so they cannot overwrite the optimistic value.
func (c *Cache) BeginOptimistic(key string, apply func(prev any) any) *OptimisticWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	e.epoch++
	if !e.priorSet {
		e.prior = e.value
		e.priorSet = true
	}
	e.value = apply(e.value)
	return &OptimisticWrite{cache: c, key: key}
}

// Commit drops the remembered prior snapshot; the optimistic value stands
// until the post-mutation refetch replaces it.
func (w *OptimisticWrite) Commit() {
	w.settle(func(e *entry) {})
}

// Rollback restores the prior snapshot exactly.
func (w *OptimisticWrite) Rollback() {
	w.settle(func(e *entry) {
		e.value = e.prior
	})
}

func (w *OptimisticWrite) settle(restore func(e *entry)) {
	if w.settled {
		return
	}
	w.settled = true
	w.cache.mu.Lock()
	defer w.cache.mu.Unlock()
	e := w.cache.entryLocked(w.key)
	if e.priorSet {
		restore(e)
		e.prior = nil
		e.priorSet = false
	}
	e.epoch++
}

// Invalidate bumps each key's epoch (discarding in-flight fetch results) and
// kicks off a background refetch through the registered fetcher. Every
// client instance sharing this cache observes the refreshed state.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		c.mu.Lock()
		e := c.entryLocked(key)
		e.epoch++
		fn, ok := c.fetchers[key]
		c.mu.Unlock()
		if ok {
			go c.Fetch(ctx, key, fn) //nolint:errcheck
		}
	}
}

// Remove evicts a key and its fetcher entirely, so a reused identifier can
// never observe stale state.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	delete(c.fetchers, key)
}

func (c *Cache) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func snapshotOf(e *entry) Snapshot {
	return Snapshot{
		Value:     e.value,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
		Loading:   e.loading > 0,
	}
}
