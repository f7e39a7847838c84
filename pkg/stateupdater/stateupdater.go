// Package stateupdater applies the outcome-driven mutation table from
// spec.md §4.7: every classifier Outcome maps to a specific set of writes
// across the Cooldown Cache, Main Cache, and Key Repository. The Failover
// Engine calls this package after classifying each attempt; it never
// mutates caches or the repository directly.
package stateupdater

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aikeygate/gateway/pkg/cooldowncache"
	"github.com/aikeygate/gateway/pkg/healthscore"
	"github.com/aikeygate/gateway/pkg/keystore"
	"github.com/aikeygate/gateway/pkg/maincache"
)

// invalidKeyCooldown is the long safety TTL a KeyInvalid outcome flags the
// key with in the Cooldown Cache, so it is also masked immediately while
// the blocking status update propagates through the Main Cache.
const invalidKeyCooldown = 300 * time.Second

// Updater owns the caches and repository the mutation table writes to.
type Updater struct {
	cooldown *cooldowncache.Cache
	main     *maincache.Cache
	stats    *healthscore.StatsStore
	repo     keystore.Repository
	log      *slog.Logger
}

// New creates an Updater. log may be nil, in which case a discard logger
// is used.
func New(cooldown *cooldowncache.Cache, main *maincache.Cache, stats *healthscore.StatsStore, repo keystore.Repository, log *slog.Logger) *Updater {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Updater{cooldown: cooldown, main: main, stats: stats, repo: repo, log: log}
}

// OnSuccess records a successful attempt against keyID. The in-memory
// rolling stats are updated unconditionally; the repository write spec.md
// §4.7 marks optional is intentionally skipped here to keep the hot path
// free of a write per successful request.
func (u *Updater) OnSuccess(keyID uuid.UUID, createdAt time.Time, latency time.Duration) {
	u.stats.RecordSuccess(keyID, createdAt, latency)
}

// OnTransient records a same-key transient failure in the rolling stats
// only; no cache or repository mutation accompanies it.
// totalCoolingSeconds is the key's repository-persisted lifetime cooldown
// total, used to catch the in-memory tracker up if it has fallen behind.
func (u *Updater) OnTransient(keyID uuid.UUID, createdAt time.Time, totalCoolingSeconds int64) {
	u.stats.RecordFailure(keyID, createdAt, totalCoolingSeconds, 0)
}

// OnCooldown flags keyID in the Cooldown Cache immediately, then
// best-effort extends its cooldown in the repository. The in-memory flag
// happens before the repository call per the ordering guarantee in
// spec.md §4.7: concurrent in-flight requests must observe the mask even
// if the repository write is slow or fails. totalCoolingSeconds is the
// key's repository-persisted lifetime cooldown total prior to this
// episode; duration is added on top, keeping the in-memory running sum in
// sync with spec.md §3's monotonically increasing total.
func (u *Updater) OnCooldown(ctx context.Context, keyID uuid.UUID, createdAt time.Time, totalCoolingSeconds int64, provider, model string, duration time.Duration) {
	u.cooldown.Flag(keyID, duration)
	u.stats.RecordFailure(keyID, createdAt, totalCoolingSeconds, int64(duration.Seconds()))

	if err := u.repo.ExtendCooldown(ctx, keyID, model, duration); err != nil {
		u.log.Error("stateupdater: extend_cooldown failed, relying on in-memory flag",
			"key_id", keyID, "provider", provider, "model", model, "error", err)
	}
}

// OnBlock flags keyID with the long safety TTL, invalidates the provider's
// Main Cache entry so the next rebuild excludes it, and marks it blocked
// in the repository. Same non-undo-on-failure rule as OnCooldown.
func (u *Updater) OnBlock(ctx context.Context, keyID uuid.UUID, createdAt time.Time, totalCoolingSeconds int64, provider string) {
	u.cooldown.Flag(keyID, invalidKeyCooldown)
	u.main.Invalidate(provider)
	u.stats.RecordFailure(keyID, createdAt, totalCoolingSeconds, 0)

	if err := u.repo.UpdateStatus(ctx, keyID, keystore.StatusBlocked); err != nil {
		u.log.Error("stateupdater: update_status(blocked) failed, relying on in-memory flag",
			"key_id", keyID, "provider", provider, "error", err)
	}
}

// OnAdministrativeChange invalidates the provider's Main Cache entry after
// an out-of-band insert or delete (bulk import, cleanup collaborator).
func (u *Updater) OnAdministrativeChange(provider string) {
	u.main.Invalidate(provider)
}
