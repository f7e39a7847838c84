package healthscore

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStatsStoreRecordSuccessResetsFailures(t *testing.T) {
	s := NewStatsStore()
	id := uuid.New()
	now := time.Now()

	s.RecordFailure(id, now, 0, 0)
	s.RecordFailure(id, now, 0, 0)
	s.RecordSuccess(id, now, 10*time.Millisecond)

	got := s.Get(id, now)
	if got.ConsecutiveFailures != 0 {
		t.Fatalf("expected consecutive failures reset to 0, got %d", got.ConsecutiveFailures)
	}
	if got.SuccessCount != 1 {
		t.Fatalf("expected 1 success recorded, got %d", got.SuccessCount)
	}
}

func TestStatsStoreGetUnknownKeyIsHealthyBaseline(t *testing.T) {
	s := NewStatsStore()
	id := uuid.New()
	now := time.Now()

	got := s.Get(id, now)
	if got.ConsecutiveFailures != 0 {
		t.Fatalf("expected unknown key to default to 0 consecutive failures")
	}
}

func TestStatsStoreRecordFailureAccumulatesTotalCoolingSeconds(t *testing.T) {
	s := NewStatsStore()
	id := uuid.New()
	now := time.Now()

	s.RecordFailure(id, now, 0, 30) // first cooldown episode: 30s
	s.RecordFailure(id, now, 0, 10) // second, independent episode: +10s

	got := s.Get(id, now)
	if got.TotalCoolingSeconds != 40 {
		t.Fatalf("expected total cooling seconds to be the running sum 40, got %d", got.TotalCoolingSeconds)
	}
}

func TestStatsStoreRecordFailureCatchesUpToRepositoryBaseline(t *testing.T) {
	s := NewStatsStore()
	id := uuid.New()
	now := time.Now()

	s.RecordSuccess(id, now, time.Millisecond) // entry created with TotalCoolingSeconds=0
	s.RecordFailure(id, now, 120, 15)          // repo says 120s already accrued elsewhere; +15 this episode

	got := s.Get(id, now)
	if got.TotalCoolingSeconds != 135 {
		t.Fatalf("expected tracker to catch up to the repository baseline and add this episode, got %d", got.TotalCoolingSeconds)
	}
}

func TestStatsStoreRecordFailureBaselineNeverRegressesTracked(t *testing.T) {
	s := NewStatsStore()
	id := uuid.New()
	now := time.Now()

	s.RecordFailure(id, now, 0, 50) // tracked total is now 50
	s.RecordFailure(id, now, 10, 0) // stale, lower baseline must not regress it

	got := s.Get(id, now)
	if got.TotalCoolingSeconds != 50 {
		t.Fatalf("expected a stale lower baseline not to regress the tracked total, got %d", got.TotalCoolingSeconds)
	}
}
