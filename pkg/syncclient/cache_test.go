package syncclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchStoresSnapshot(t *testing.T) {
	c := NewCache()
	snap, err := c.Fetch(context.Background(), "k", func(ctx context.Context) (any, error) {
		return "v1", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Value != "v1" || snap.Err != nil || snap.UpdatedAt.IsZero() {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if got := c.Get("k"); got.Value != "v1" {
		t.Fatalf("Get returned %+v", got)
	}
}

func TestFetchKeepsStaleValueOnError(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	if _, err := c.Fetch(ctx, "k", func(ctx context.Context) (any, error) { return "v1", nil }); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("backend down")
	snap, err := c.Fetch(ctx, "k", func(ctx context.Context) (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("want fetch error, got %v", err)
	}
	if snap.Value != "v1" {
		t.Errorf("prior value should survive a failed refresh, got %v", snap.Value)
	}
	if !snap.Stale() {
		t.Error("snapshot with value and error should report stale")
	}

	// A later success clears the error.
	snap, err = c.Fetch(ctx, "k", func(ctx context.Context) (any, error) { return "v2", nil })
	if err != nil || snap.Value != "v2" || snap.Err != nil {
		t.Fatalf("recovery fetch: %+v, %v", snap, err)
	}
}

func TestConcurrentFetchesCollapse(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Fetch(context.Background(), "k", fn) //nolint:errcheck
		}()
	}
	// Let the goroutines pile up on the in-flight call before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("fetch ran %d times, want 1", got)
	}
}

func TestLoadingFlag(t *testing.T) {
	c := NewCache()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Fetch(context.Background(), "k", func(ctx context.Context) (any, error) { //nolint:errcheck
			close(started)
			<-release
			return "v", nil
		})
	}()
	<-started
	if !c.Get("k").Loading {
		t.Error("snapshot should report loading while a fetch is in flight")
	}
	close(release)
	<-done
	if c.Get("k").Loading {
		t.Error("loading should clear once the fetch settles")
	}
}

func TestOptimisticCommitAndRollback(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	if _, err := c.Fetch(ctx, "k", func(ctx context.Context) (any, error) { return []int{1, 2}, nil }); err != nil {
		t.Fatal(err)
	}

	w := c.BeginOptimistic("k", func(prev any) any {
		return append(append([]int(nil), prev.([]int)...), 3)
	})
	if got := c.Get("k").Value.([]int); len(got) != 3 {
		t.Fatalf("optimistic value not visible: %v", got)
	}

	w.Rollback()
	got := c.Get("k").Value.([]int)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("rollback should restore the prior value exactly, got %v", got)
	}

	// Rollback after commit must not fire.
	w2 := c.BeginOptimistic("k", func(prev any) any { return []int{9} })
	w2.Commit()
	w2.Rollback()
	if got := c.Get("k").Value.([]int); got[0] != 9 {
		t.Fatalf("settled write must stay settled, got %v", got)
	}
}

func TestStackedOptimisticWritesRollBackToOriginal(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	if _, err := c.Fetch(ctx, "k", func(ctx context.Context) (any, error) { return "base", nil }); err != nil {
		t.Fatal(err)
	}
	w1 := c.BeginOptimistic("k", func(prev any) any { return "first" })
	c.BeginOptimistic("k", func(prev any) any { return "second" })
	w1.Rollback()
	if got := c.Get("k").Value; got != "base" {
		t.Fatalf("rollback should restore the pre-write snapshot, got %v", got)
	}
}

func TestInFlightFetchDiscardedAfterOptimisticWrite(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	if _, err := c.Fetch(ctx, "k", func(ctx context.Context) (any, error) { return "server-old", nil }); err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "k", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "server-stale", nil
		})
		result <- err
	}()
	<-started

	w := c.BeginOptimistic("k", func(prev any) any { return "optimistic" })
	close(release)

	if err := <-result; !errors.Is(err, ErrStaleFetch) {
		t.Fatalf("fetch overlapping a write should report ErrStaleFetch, got %v", err)
	}
	if got := c.Get("k").Value; got != "optimistic" {
		t.Fatalf("stale response must not clobber the optimistic value, got %v", got)
	}
	w.Commit()
}

func TestInvalidateRefetchesRegisteredKey(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	var calls atomic.Int32
	c.Register("k", func(ctx context.Context) (any, error) {
		return int(calls.Add(1)), nil
	})
	if _, err := c.FetchRegistered(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	c.Invalidate(ctx, "k")

	deadline := time.After(time.Second)
	for c.Get("k").Value != 2 {
		select {
		case <-deadline:
			t.Fatalf("invalidate did not trigger a refetch, value = %v", c.Get("k").Value)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFetchRegisteredUnknownKey(t *testing.T) {
	c := NewCache()
	if _, err := c.FetchRegistered(context.Background(), "nope"); !errors.Is(err, ErrNoFetcher) {
		t.Fatalf("want ErrNoFetcher, got %v", err)
	}
}

func TestRemoveEvictsEntryAndFetcher(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	c.Register("k", func(ctx context.Context) (any, error) { return "v", nil })
	if _, err := c.FetchRegistered(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	c.Remove("k")
	if snap := c.Get("k"); snap.HasValue() {
		t.Fatalf("removed key still has value %v", snap.Value)
	}
	if _, err := c.FetchRegistered(ctx, "k"); !errors.Is(err, ErrNoFetcher) {
		t.Fatalf("removed key should lose its fetcher, got %v", err)
	}
}
