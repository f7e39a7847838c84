package importer

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aikeygate/gateway/pkg/healthscore"
	"github.com/aikeygate/gateway/pkg/keystore"
	"github.com/aikeygate/gateway/pkg/maincache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestImportInsertsGroupedByProvider(t *testing.T) {
	repo := keystore.NewFakeRepository()
	main := maincache.New(repo, healthscore.NewStatsStore(), time.Minute)

	csvData := "openai,sk-aaaaaaaaaa\nopenai,sk-bbbbbbbbbb\nanthropic,sk-cccccccccc\n"

	result, err := Import(context.Background(), strings.NewReader(csvData), repo, main, testLogger())
	if err != nil {
		t.Fatalf("Import error: %v", err)
	}

	if result.Inserted["openai"] != 2 {
		t.Fatalf("openai inserted = %d, want 2", result.Inserted["openai"])
	}
	if result.Inserted["anthropic"] != 1 {
		t.Fatalf("anthropic inserted = %d, want 1", result.Inserted["anthropic"])
	}

	active, err := repo.ListActive(context.Background(), "openai")
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d active openai keys, want 2", len(active))
	}
}

func TestImportSkipsInvalidRows(t *testing.T) {
	repo := keystore.NewFakeRepository()
	main := maincache.New(repo, healthscore.NewStatsStore(), time.Minute)

	csvData := "openai,short\nopenai,sk-aaaaaaaaaa\n,sk-bbbbbbbbbb\n"

	result, err := Import(context.Background(), strings.NewReader(csvData), repo, main, testLogger())
	if err != nil {
		t.Fatalf("Import error: %v", err)
	}

	if result.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", result.Skipped)
	}
	if result.Inserted["openai"] != 1 {
		t.Fatalf("openai inserted = %d, want 1", result.Inserted["openai"])
	}
}

func TestImportRejectsMalformedCSV(t *testing.T) {
	repo := keystore.NewFakeRepository()
	main := maincache.New(repo, healthscore.NewStatsStore(), time.Minute)

	_, err := Import(context.Background(), strings.NewReader("openai,sk-aaaaaaaaaa,extra\n"), repo, main, testLogger())
	if err == nil {
		t.Fatal("expected an error for a row with the wrong field count")
	}
}
