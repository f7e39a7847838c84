package stateupdater

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aikeygate/gateway/pkg/cooldowncache"
	"github.com/aikeygate/gateway/pkg/healthscore"
	"github.com/aikeygate/gateway/pkg/keystore"
	"github.com/aikeygate/gateway/pkg/maincache"
)

type zeroStats struct{}

func (zeroStats) Stats(_ context.Context, keys []keystore.Key) []healthscore.Stats {
	out := make([]healthscore.Stats, len(keys))
	for i, k := range keys {
		out[i] = healthscore.Stats{KeyID: k.ID, CreatedAt: k.CreatedAt}
	}
	return out
}

func newTestUpdater(repo keystore.Repository) (*Updater, *cooldowncache.Cache, *maincache.Cache) {
	cd := cooldowncache.New(100)
	stats := healthscore.NewStatsStore()
	mc := maincache.New(repo, zeroStats{}, time.Minute)
	return New(cd, mc, stats, repo, nil), cd, mc
}

func TestOnCooldownFlagsBeforeRepositoryWrite(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai"})
	keys, _ := repo.ListActive(context.Background(), "openai")
	id := keys[0].ID

	u, cd, _ := newTestUpdater(repo)
	u.OnCooldown(context.Background(), id, keys[0].CreatedAt, keys[0].TotalCoolingSeconds, "openai", "gpt-4", 30*time.Second)

	if !cd.IsFlagged(id) {
		t.Fatal("expected key to be flagged in the cooldown cache")
	}
	k, _ := repo.Get(id)
	if k.TotalCoolingSeconds != 30 {
		t.Fatalf("expected repository cooldown extension of 30s, got %d", k.TotalCoolingSeconds)
	}
}

func TestOnCooldownSurvivesRepositoryFailure(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai"})
	keys, _ := repo.ListActive(context.Background(), "openai")
	id := keys[0].ID

	u, cd, _ := newTestUpdater(repo)
	// Simulate a repository outage by deleting the row out from under the
	// updater so ExtendCooldown returns ErrNotFound.
	_ = repo.Delete(context.Background(), id)

	u.OnCooldown(context.Background(), id, keys[0].CreatedAt, keys[0].TotalCoolingSeconds, "openai", "gpt-4", 30*time.Second)

	if !cd.IsFlagged(id) {
		t.Fatal("expected in-memory flag to survive a failed repository write")
	}
}

func TestOnCooldownAccumulatesTrackedTotalCoolingSeconds(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai", TotalCoolingSeconds: 100})
	keys, _ := repo.ListActive(context.Background(), "openai")
	id := keys[0].ID

	cd := cooldowncache.New(100)
	stats := healthscore.NewStatsStore()
	mc := maincache.New(repo, zeroStats{}, time.Minute)
	u := New(cd, mc, stats, repo, nil)

	u.OnCooldown(context.Background(), id, keys[0].CreatedAt, keys[0].TotalCoolingSeconds, "openai", "gpt-4", 30*time.Second)

	got := stats.Get(id, keys[0].CreatedAt)
	if got.TotalCoolingSeconds != 130 {
		t.Fatalf("expected tracked total to start from the repository baseline 100 and add 30, got %d", got.TotalCoolingSeconds)
	}
}

func TestOnBlockInvalidatesMainCacheAndBlocksRepository(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai"})
	keys, _ := repo.ListActive(context.Background(), "openai")
	id := keys[0].ID

	u, cd, mc := newTestUpdater(repo)
	_, _ = mc.Get(context.Background(), "openai") // warm the cache
	if repo.ListActiveCalls != 1 {
		t.Fatalf("expected 1 warm-up call, got %d", repo.ListActiveCalls)
	}

	u.OnBlock(context.Background(), id, keys[0].CreatedAt, keys[0].TotalCoolingSeconds, "openai")

	if !cd.IsFlagged(id) {
		t.Fatal("expected key flagged after block")
	}
	k, ok := repo.Get(id)
	if !ok || k.Status != keystore.StatusBlocked {
		t.Fatalf("expected repository status blocked, got %+v ok=%v", k, ok)
	}

	if _, err := mc.Get(context.Background(), "openai"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.ListActiveCalls != 2 {
		t.Fatalf("expected OnBlock to force a Main Cache rebuild, got %d calls", repo.ListActiveCalls)
	}
}

func TestOnAdministrativeChangeInvalidatesMainCache(t *testing.T) {
	repo := keystore.NewFakeRepository()
	repo.Seed(keystore.Key{Provider: "openai"})

	u, _, mc := newTestUpdater(repo)
	_, _ = mc.Get(context.Background(), "openai")
	u.OnAdministrativeChange("openai")
	_, _ = mc.Get(context.Background(), "openai")

	if repo.ListActiveCalls != 2 {
		t.Fatalf("expected administrative change to force a rebuild, got %d calls", repo.ListActiveCalls)
	}
}

func TestOnSuccessRecordsStats(t *testing.T) {
	repo := keystore.NewFakeRepository()
	id := uuid.New()
	cd := cooldowncache.New(10)
	stats := healthscore.NewStatsStore()
	mc := maincache.New(repo, zeroStats{}, time.Minute)
	u := New(cd, mc, stats, repo, nil)

	now := time.Now()
	u.OnSuccess(id, now, 5*time.Millisecond)

	got := stats.Get(id, now)
	if got.SuccessCount != 1 {
		t.Fatalf("expected 1 recorded success, got %d", got.SuccessCount)
	}
}
