// Package maincache holds the per-provider ranked snapshot of candidate
// keys. A snapshot is rebuilt from the Key Repository at most once per TTL
// per provider; concurrent callers racing a miss or an expiry share a
// single rebuild via golang.org/x/sync/singleflight rather than each
// issuing their own repository query (the "build lock" in spec.md §4.2).
package maincache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aikeygate/gateway/pkg/healthscore"
	"github.com/aikeygate/gateway/pkg/keystore"
)

// DefaultTTL is how long a provider's snapshot is considered fresh before
// the next request for it triggers a rebuild.
const DefaultTTL = 60 * time.Second

// Entry is one provider's ranked snapshot.
type Entry struct {
	Provider  string
	Keys      []keystore.Key
	RankedIDs []healthscore.Stats // ranked in Main-Cache order, healthiest first
	BuiltAt   time.Time
}

func (e Entry) fresh(now time.Time, ttl time.Duration) bool {
	return !e.BuiltAt.IsZero() && now.Sub(e.BuiltAt) < ttl
}

// StatsProvider supplies the health statistics used to rank a provider's
// active keys. It is separate from keystore.Repository because health
// stats are typically derived in-process (recent attempt history) rather
// than stored alongside the key row.
type StatsProvider interface {
	Stats(ctx context.Context, keys []keystore.Key) []healthscore.Stats
}

// Cache is the Main Cache: a TTL'd, singleflight-protected, per-provider
// ranked snapshot on top of a keystore.Repository.
type Cache struct {
	repo  keystore.Repository
	stats StatsProvider
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry

	group singleflight.Group
}

// New creates a Cache backed by repo, using stats to rank each provider's
// active keys. A non-positive ttl falls back to DefaultTTL.
func New(repo keystore.Repository, stats StatsProvider, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		repo:    repo,
		stats:   stats,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// Get returns the ranked snapshot for provider, rebuilding it from the
// repository if stale or absent. Concurrent Get calls for the same
// provider during a rebuild share one repository query.
//
// If the repository call fails and a previous snapshot exists, the stale
// snapshot is returned instead of the error — spec.md §7's "serve stale
// rather than fail" rule for the Main Cache.
func (c *Cache) Get(ctx context.Context, provider string) (Entry, error) {
	c.mu.RLock()
	existing, ok := c.entries[provider]
	c.mu.RUnlock()

	if ok && existing.fresh(c.now(), c.ttl) {
		return existing, nil
	}

	v, err, _ := c.group.Do(provider, func() (interface{}, error) {
		// Re-check freshness: another goroutine may have rebuilt the entry
		// while this one waited to enter Do.
		c.mu.RLock()
		cur, ok := c.entries[provider]
		c.mu.RUnlock()
		if ok && cur.fresh(c.now(), c.ttl) {
			return cur, nil
		}

		keys, err := c.repo.ListActive(ctx, provider)
		if err != nil {
			if ok {
				// Serve stale rather than propagate a transient store outage.
				return cur, nil
			}
			return Entry{}, err
		}

		var ranked []healthscore.Stats
		if c.stats != nil {
			ranked = healthscore.Rank(c.stats.Stats(ctx, keys))
		}

		entry := Entry{Provider: provider, Keys: keys, RankedIDs: ranked, BuiltAt: c.now()}
		c.mu.Lock()
		c.entries[provider] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Invalidate forces the next Get for provider to rebuild from the
// repository, used by the State Updater after a mutation and by the
// Administrative Cleanup collaborator after a deletion.
func (c *Cache) Invalidate(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, provider)
}
