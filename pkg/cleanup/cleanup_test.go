package cleanup

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aikeygate/gateway/pkg/healthscore"
	"github.com/aikeygate/gateway/pkg/keystore"
	"github.com/aikeygate/gateway/pkg/maincache"
	"github.com/aikeygate/gateway/pkg/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSweepDeletesKeysPastThreshold(t *testing.T) {
	repo := keystore.NewFakeRepository()
	createdAt := time.Now().Add(-time.Hour)

	goodID := uuid.New()
	badID := uuid.New()
	repo.Seed(keystore.Key{ID: goodID, Provider: "openai", CreatedAt: createdAt})
	repo.Seed(keystore.Key{ID: badID, Provider: "openai", CreatedAt: createdAt})

	stats := healthscore.NewStatsStore()
	const recoveryThreshold = 1 // cutoff = recoveryThreshold * 50
	for i := 0; i < 50; i++ {
		stats.RecordFailure(badID, createdAt, 0, 0)
	}
	stats.RecordSuccess(goodID, createdAt, time.Millisecond)

	table := providers.NewTable(providers.OpenAICompatible("openai", "https://api.openai.com"))
	main := maincache.New(repo, stats, time.Minute)

	loop := New(repo, stats, main, table, recoveryThreshold, testLogger())
	loop.sweep(context.Background())

	active, err := repo.ListActive(context.Background(), "openai")
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active keys, want 1 (bad key should be deleted)", len(active))
	}
	if active[0].ID != goodID {
		t.Fatalf("remaining key = %v, want the good key %v", active[0].ID, goodID)
	}
}

func TestSweepNoOpWhenNoKeysCondemned(t *testing.T) {
	repo := keystore.NewFakeRepository()
	createdAt := time.Now().Add(-time.Hour)
	id := uuid.New()
	repo.Seed(keystore.Key{ID: id, Provider: "openai", CreatedAt: createdAt})

	stats := healthscore.NewStatsStore()
	stats.RecordSuccess(id, createdAt, time.Millisecond)

	table := providers.NewTable(providers.OpenAICompatible("openai", "https://api.openai.com"))
	main := maincache.New(repo, stats, time.Minute)

	loop := New(repo, stats, main, table, 1, testLogger())
	loop.sweep(context.Background())

	active, err := repo.ListActive(context.Background(), "openai")
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active keys, want 1 (no deletion expected)", len(active))
	}
}
