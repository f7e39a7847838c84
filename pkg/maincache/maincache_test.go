package maincache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aikeygate/gateway/pkg/healthscore"
	"github.com/aikeygate/gateway/pkg/keystore"
)

type noopStats struct{}

func (noopStats) Stats(_ context.Context, keys []keystore.Key) []healthscore.Stats {
	out := make([]healthscore.Stats, len(keys))
	for i, k := range keys {
		out[i] = healthscore.Stats{KeyID: k.ID, CreatedAt: k.CreatedAt}
	}
	return out
}

func TestGetBuildsAndCachesWithinTTL(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai"})

	c := New(repo, noopStats{}, time.Minute)
	entry, err := c.Get(context.Background(), "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entry.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(entry.Keys))
	}

	if _, err := c.Get(context.Background(), "openai"); err != nil {
		t.Fatalf("unexpected error on second Get: %v", err)
	}
	if repo.ListActiveCalls != 1 {
		t.Fatalf("expected only 1 repository call within TTL, got %d", repo.ListActiveCalls)
	}
}

func TestGetRebuildsAfterTTLExpiry(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai"})

	c := New(repo, noopStats{}, time.Millisecond)
	if _, err := c.Get(context.Background(), "openai"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(context.Background(), "openai"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.ListActiveCalls != 2 {
		t.Fatalf("expected a rebuild after TTL expiry, got %d calls", repo.ListActiveCalls)
	}
}

func TestConcurrentGetsCoalesceIntoOneRepositoryCall(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai"})

	c := New(repo, noopStats{}, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "openai"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if repo.ListActiveCalls != 1 {
		t.Fatalf("expected concurrent misses to coalesce into 1 repository call, got %d", repo.ListActiveCalls)
	}
}

func TestInvalidateForcesRebuild(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai"})

	c := New(repo, noopStats{}, time.Minute)
	if _, err := c.Get(context.Background(), "openai"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Invalidate("openai")
	if _, err := c.Get(context.Background(), "openai"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.ListActiveCalls != 2 {
		t.Fatalf("expected Invalidate to force a rebuild, got %d calls", repo.ListActiveCalls)
	}
}

func TestGetServesStaleOnRepositoryError(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai"})

	c := New(repo, noopStats{}, time.Millisecond)
	if _, err := c.Get(context.Background(), "openai"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	repo.ListActiveErr = context.DeadlineExceeded

	entry, err := c.Get(context.Background(), "openai")
	if err != nil {
		t.Fatalf("expected stale snapshot to be served instead of an error, got %v", err)
	}
	if len(entry.Keys) != 1 {
		t.Fatalf("expected the stale snapshot's single key to be served, got %d", len(entry.Keys))
	}
}

func TestGetPropagatesErrorWhenNoPriorSnapshot(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.ListActiveErr = context.DeadlineExceeded

	c := New(repo, noopStats{}, time.Minute)
	if _, err := c.Get(context.Background(), "openai"); err == nil {
		t.Fatal("expected error to propagate when no previous snapshot exists")
	}
}
