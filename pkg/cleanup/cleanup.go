// Package cleanup runs the administrative sweep that retires keys past the
// recovery threshold (spec.md §4.8): a background loop, not an HTTP
// endpoint, so it stays in scope even though spec.md §1 lists "administrative
// endpoints for manual cleanup" as an out-of-scope HTTP surface.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/aikeygate/gateway/pkg/healthscore"
	"github.com/aikeygate/gateway/pkg/keystore"
	"github.com/aikeygate/gateway/pkg/maincache"
	"github.com/aikeygate/gateway/pkg/providers"
)

// Loop periodically scans every registered provider's active keys and
// permanently deletes any whose consecutive failure count has crossed the
// cleanup cutoff (healthscore.NeedsCleanup), invalidating the Main Cache
// entry for any provider it touches.
type Loop struct {
	repo     keystore.Repository
	stats    *healthscore.StatsStore
	main     *maincache.Cache
	table    *providers.Table
	logger   *slog.Logger
	interval int // recoveryThreshold, forwarded to healthscore.NeedsCleanup
}

// New creates a cleanup Loop. recoveryThreshold is forwarded unchanged to
// healthscore.NeedsCleanup for every sweep.
func New(repo keystore.Repository, stats *healthscore.StatsStore, main *maincache.Cache, table *providers.Table, recoveryThreshold int, logger *slog.Logger) *Loop {
	return &Loop{
		repo:     repo,
		stats:    stats,
		main:     main,
		table:    table,
		logger:   logger,
		interval: recoveryThreshold,
	}
}

// Run starts the cleanup loop, sweeping every interval until ctx is
// cancelled. It blocks.
func (l *Loop) Run(ctx context.Context, interval time.Duration) error {
	l.logger.Info("cleanup loop started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("cleanup loop stopped")
			return nil
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

// sweep scans every provider once. Errors from an individual provider are
// logged and do not stop the sweep of the remaining providers.
func (l *Loop) sweep(ctx context.Context) {
	for _, tag := range l.table.Tags() {
		if err := l.sweepProvider(ctx, tag); err != nil {
			l.logger.Error("cleanup: sweeping provider failed", "provider", tag, "error", err)
		}
	}
}

func (l *Loop) sweepProvider(ctx context.Context, provider string) error {
	keys, err := l.repo.ListActive(ctx, provider)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	stats := l.stats.Stats(ctx, keys)
	condemned := healthscore.NeedsCleanup(stats, l.interval)
	if len(condemned) == 0 {
		return nil
	}

	for _, keyID := range condemned {
		if err := l.repo.Delete(ctx, keyID); err != nil {
			l.logger.Error("cleanup: deleting key failed", "provider", provider, "key_id", keyID, "error", err)
			continue
		}
		l.stats.Forget(keyID)
		l.logger.Info("cleanup: deleted key past recovery threshold", "provider", provider, "key_id", keyID)
	}

	l.main.Invalidate(provider)
	return nil
}
