package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTTLGetOrFetch_CachesWithinTTL(t *testing.T) {
	c := NewTTL[int]("test", time.Minute, nil)
	now := time.Unix(1000, 0)
	c.clock = func() time.Time { return now }

	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrFetch(context.Background(), "k", fetch)
		if err != nil {
			t.Fatalf("GetOrFetch returned error: %v", err)
		}
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	}
	if calls != 1 {
		t.Errorf("expected single upstream call, got %d", calls)
	}

	now = now.Add(time.Minute)
	if _, err := c.GetOrFetch(context.Background(), "k", fetch); err != nil {
		t.Fatalf("GetOrFetch after expiry returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected refetch after expiry, got %d calls", calls)
	}
}

func TestTTLGetOrFetch_ServesStaleOnError(t *testing.T) {
	c := NewTTL[string]("test", time.Minute, nil)
	now := time.Unix(1000, 0)
	c.clock = func() time.Time { return now }

	good := func(ctx context.Context) (string, error) { return "fresh", nil }
	bad := func(ctx context.Context) (string, error) { return "", errors.New("upstream down") }

	if _, err := c.GetOrFetch(context.Background(), "k", good); err != nil {
		t.Fatalf("initial fetch returned error: %v", err)
	}

	now = now.Add(2 * time.Minute)

	v, err := c.GetOrFetch(context.Background(), "k", bad)
	if err != nil {
		t.Fatalf("expected stale value instead of error, got %v", err)
	}
	if v != "fresh" {
		t.Errorf("expected stale value 'fresh', got %q", v)
	}

	// 没有旧值时错误必须透传。
	if _, err := c.GetOrFetch(context.Background(), "missing", bad); err == nil {
		t.Fatalf("expected error for key without prior value")
	}
}

func TestTTLGetOrFetch_CollapsesConcurrentFetches(t *testing.T) {
	c := NewTTL[int]("test", time.Minute, nil)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	const workers = 8
	results := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.GetOrFetch(context.Background(), "k", fetch)
			if err != nil {
				t.Errorf("GetOrFetch returned error: %v", err)
				return
			}
			results[idx] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("expected concurrent fetches to collapse to 1 call, got %d", got)
	}
	for i, v := range results {
		if v != 7 {
			t.Errorf("worker %d got %d, want 7", i, v)
		}
	}
}

func TestTTLInvalidate(t *testing.T) {
	c := NewTTL[int]("test", time.Minute, nil)
	c.Set("k", 1)

	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected cache hit after Set")
	}

	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss after Invalidate")
	}
}
