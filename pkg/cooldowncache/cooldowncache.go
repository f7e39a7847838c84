// Package cooldowncache implements the "penalty box": a bounded, in-memory
// set of key IDs currently flagged as on cooldown, so the Failover Engine
// can skip them without a repository round trip. Entries carry only an
// expiry, never a value payload, and are lazily reaped on access.
package cooldowncache

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEntries bounds memory use when a deployment has far more
// flagged keys than the process could ever usefully track at once; the
// oldest entry is evicted to make room, same as a genuinely expired one
// would have been shortly anyway.
const DefaultMaxEntries = 10_000

type entry struct {
	keyID     uuid.UUID
	expiresAt time.Time
	element   *list.Element
}

// Cache is a thread-safe, bounded set of cooling-down key IDs.
type Cache struct {
	mu         sync.RWMutex
	entries    map[uuid.UUID]*entry
	lru        *list.List
	maxEntries int
	now        func() time.Time
}

// New creates a Cache with the given capacity. A non-positive maxEntries
// falls back to DefaultMaxEntries.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[uuid.UUID]*entry, maxEntries),
		lru:        list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Flag marks keyID as on cooldown until now+duration. A later call for the
// same key takes the later of the two expiries — cooldown never shortens —
// and refreshes its LRU position.
func (c *Cache) Flag(keyID uuid.UUID, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(duration)

	if e, ok := c.entries[keyID]; ok {
		if expiresAt.After(e.expiresAt) {
			e.expiresAt = expiresAt
		}
		c.lru.MoveToFront(e.element)
		return
	}

	if c.lru.Len() >= c.maxEntries {
		c.evictOldestLocked()
	}

	e := &entry{keyID: keyID, expiresAt: expiresAt}
	e.element = c.lru.PushFront(e)
	c.entries[keyID] = e
}

// IsFlagged reports whether keyID is presently on cooldown, lazily reaping
// the entry if its expiry has already passed.
func (c *Cache) IsFlagged(keyID uuid.UUID) bool {
	c.mu.RLock()
	e, ok := c.entries[keyID]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		c.deleteLocked(keyID)
		c.mu.Unlock()
		return false
	}
	return true
}

// Unflag removes keyID from the cooldown set immediately, used when a key
// recovers before its natural expiry (e.g. an administrative override).
func (c *Cache) Unflag(keyID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(keyID)
}

// Len returns the current number of tracked entries, including any not yet
// lazily reaped.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ReapExpired removes every entry whose expiry has passed, returning the
// count removed. No periodic caller is wired up (pkg/cleanup's Loop does not
// hold the Cooldown Cache); outside explicit calls, expired entries leave
// only through IsFlagged's lazy reap or LRU eviction.
func (c *Cache) ReapExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []uuid.UUID
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		c.deleteLocked(id)
	}
	return len(expired)
}

func (c *Cache) deleteLocked(keyID uuid.UUID) {
	e, ok := c.entries[keyID]
	if !ok {
		return
	}
	c.lru.Remove(e.element)
	delete(c.entries, keyID)
}

func (c *Cache) evictOldestLocked() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.lru.Remove(oldest)
	delete(c.entries, e.keyID)
}
