// Package healthscore ranks candidate keys by recent health so the Main
// Cache and Failover Engine always try the healthiest key first.
package healthscore

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Stats is the health signal tracked per key, derived from its recent
// request history. It never touches the key's secret material.
type Stats struct {
	KeyID               uuid.UUID
	ConsecutiveFailures int
	SuccessCount        int64
	FailureCount        int64
	AvgLatency          time.Duration
	TotalCoolingSeconds int64
	CreatedAt           time.Time
}

// successRatio returns successes / (successes + failures), treating a key
// with no history yet as perfectly healthy so new keys are not penalized
// relative to seasoned ones.
func (s Stats) successRatio() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(s.SuccessCount) / float64(total)
}

// Rank sorts a copy of stats from healthiest to least healthy using the
// five-key deterministic ordering: fewer consecutive failures first, then
// higher success ratio, then lower average latency, then less lifetime
// cooldown time, then older keys (stable creation order) as the final
// tie-break. The input slice is not mutated.
func Rank(stats []Stats) []Stats {
	ranked := make([]Stats, len(stats))
	copy(ranked, stats)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]

		if a.ConsecutiveFailures != b.ConsecutiveFailures {
			return a.ConsecutiveFailures < b.ConsecutiveFailures
		}
		ra, rb := a.successRatio(), b.successRatio()
		if ra != rb {
			return ra > rb
		}
		if a.AvgLatency != b.AvgLatency {
			return a.AvgLatency < b.AvgLatency
		}
		if a.TotalCoolingSeconds != b.TotalCoolingSeconds {
			return a.TotalCoolingSeconds < b.TotalCoolingSeconds
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	return ranked
}

// NeedsCleanup returns the IDs of keys whose consecutive failure count has
// crossed recoveryThreshold*50, the marker spec.md §4.4 reserves for a
// repository-side cleanup sweep rather than further in-process retries.
func NeedsCleanup(stats []Stats, recoveryThreshold int) []uuid.UUID {
	if recoveryThreshold <= 0 {
		return nil
	}
	cutoff := recoveryThreshold * 50

	var out []uuid.UUID
	for _, s := range stats {
		if s.ConsecutiveFailures >= cutoff {
			out = append(out, s.KeyID)
		}
	}
	return out
}
