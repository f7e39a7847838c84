package healthscore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aikeygate/gateway/pkg/keystore"
)

// latencyEWMAWeight controls how quickly the rolling average latency
// adapts to new samples; lower is smoother.
const latencyEWMAWeight = 0.2

// StatsStore holds the in-memory, per-key running stats the scorer ranks
// on. It is updated only by the State Updater; readers (a Main Cache
// rebuild) take a consistent snapshot via Stats. Entries are advisory and
// may be lost on restart — the repository remains the durable source of
// truth for blocking decisions.
type StatsStore struct {
	mu    sync.Mutex
	byKey map[uuid.UUID]*Stats
}

// NewStatsStore creates an empty StatsStore.
func NewStatsStore() *StatsStore {
	return &StatsStore{byKey: make(map[uuid.UUID]*Stats)}
}

func (s *StatsStore) entry(keyID uuid.UUID, createdAt time.Time) *Stats {
	e, ok := s.byKey[keyID]
	if !ok {
		e = &Stats{KeyID: keyID, CreatedAt: createdAt}
		s.byKey[keyID] = e
	}
	return e
}

// RecordSuccess resets the consecutive-failure counter and folds the
// observed latency into the rolling average.
func (s *StatsStore) RecordSuccess(keyID uuid.UUID, createdAt time.Time, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(keyID, createdAt)
	e.ConsecutiveFailures = 0
	e.SuccessCount++
	e.AvgLatency = ewma(e.AvgLatency, latency, e.SuccessCount+e.FailureCount)
}

// RecordFailure increments the consecutive-failure counter and accumulates
// cooling time. total_cooling_seconds is a monotonically increasing sum
// (spec.md §3): currentTotalCoolingSeconds is the repository's persisted
// baseline for this key, caught up to in case this process's tracked value
// has fallen behind (first touch, or a concurrent process having extended
// the cooldown); additionalCoolingSeconds is then added on top for this
// episode (0 for a transient failure or a block, which add no cooling
// duration of their own).
func (s *StatsStore) RecordFailure(keyID uuid.UUID, createdAt time.Time, currentTotalCoolingSeconds, additionalCoolingSeconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(keyID, createdAt)
	if currentTotalCoolingSeconds > e.TotalCoolingSeconds {
		e.TotalCoolingSeconds = currentTotalCoolingSeconds
	}
	e.ConsecutiveFailures++
	e.FailureCount++
	e.TotalCoolingSeconds += additionalCoolingSeconds
}

func ewma(prev, sample time.Duration, sampleCount int64) time.Duration {
	if sampleCount <= 1 {
		return sample
	}
	return time.Duration(float64(prev)*(1-latencyEWMAWeight) + float64(sample)*latencyEWMAWeight)
}

// Get returns a copy of the tracked stats for keyID, or the zero value
// (a perfectly healthy, brand new key) if nothing has been recorded yet.
func (s *StatsStore) Get(keyID uuid.UUID, createdAt time.Time) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[keyID]
	if !ok {
		return Stats{KeyID: keyID, CreatedAt: createdAt}
	}
	cp := *e
	return cp
}

// Stats implements maincache.StatsProvider: it returns a consistent
// snapshot of tracked stats for the given keys, defaulting any key with no
// recorded history to a zero-failure baseline.
func (s *StatsStore) Stats(_ context.Context, keys []keystore.Key) []Stats {
	out := make([]Stats, len(keys))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, k := range keys {
		if e, ok := s.byKey[k.ID]; ok {
			cp := *e
			out[i] = cp
		} else {
			out[i] = Stats{KeyID: k.ID, CreatedAt: k.CreatedAt, TotalCoolingSeconds: k.TotalCoolingSeconds}
		}
	}
	return out
}

// Forget removes tracked stats for a key, used when a key is permanently
// deleted so the store doesn't grow unbounded.
func (s *StatsStore) Forget(keyID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, keyID)
}
