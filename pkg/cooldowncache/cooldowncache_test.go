package cooldowncache

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFlagThenIsFlagged(t *testing.T) {
	c := New(10)
	id := uuid.New()

	if c.IsFlagged(id) {
		t.Fatal("unflagged key must not report flagged")
	}

	c.Flag(id, time.Minute)
	if !c.IsFlagged(id) {
		t.Fatal("expected key to be flagged immediately after Flag")
	}
}

func TestIsFlaggedReapsExpired(t *testing.T) {
	c := New(10)
	id := uuid.New()
	fakeNow := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return fakeNow }

	c.Flag(id, time.Second)
	fakeNow = fakeNow.Add(2 * time.Second)

	if c.IsFlagged(id) {
		t.Fatal("expected expired entry to no longer be flagged")
	}
	if c.Len() != 0 {
		t.Fatalf("expected lazy reap to remove the entry, Len()=%d", c.Len())
	}
}

func TestUnflag(t *testing.T) {
	c := New(10)
	id := uuid.New()
	c.Flag(id, time.Minute)
	c.Unflag(id)
	if c.IsFlagged(id) {
		t.Fatal("expected Unflag to clear the cooldown immediately")
	}
}

func TestEvictsOldestWhenOverCapacity(t *testing.T) {
	c := New(2)
	a, b, d := uuid.New(), uuid.New(), uuid.New()

	c.Flag(a, time.Minute)
	c.Flag(b, time.Minute)
	c.Flag(d, time.Minute) // should evict a, the least recently used

	if c.IsFlagged(a) {
		t.Fatal("expected oldest entry to be evicted once capacity is exceeded")
	}
	if !c.IsFlagged(b) || !c.IsFlagged(d) {
		t.Fatal("expected the two most recent entries to remain flagged")
	}
}

func TestFlagAgainRefreshesLRUPosition(t *testing.T) {
	c := New(2)
	a, b, d := uuid.New(), uuid.New(), uuid.New()

	c.Flag(a, time.Minute)
	c.Flag(b, time.Minute)
	c.Flag(a, time.Minute) // touch a, making b the least recently used
	c.Flag(d, time.Minute) // should evict b, not a

	if !c.IsFlagged(a) {
		t.Fatal("expected refreshed entry to survive eviction")
	}
	if c.IsFlagged(b) {
		t.Fatal("expected least recently used entry to be evicted")
	}
}

func TestFlagTakesMaxOfExistingAndNewExpiry(t *testing.T) {
	c := New(10)
	id := uuid.New()
	fakeNow := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return fakeNow }

	c.Flag(id, 60*time.Second)
	c.Flag(id, 5*time.Second) // shorter — must not shorten the cooldown

	fakeNow = fakeNow.Add(30 * time.Second)
	if !c.IsFlagged(id) {
		t.Fatal("a shorter re-flag must not shorten an existing cooldown")
	}

	fakeNow = fakeNow.Add(31 * time.Second) // now 61s past the original Flag
	if c.IsFlagged(id) {
		t.Fatal("expected cooldown to expire at the longer of the two durations")
	}
}

func TestReapExpiredRemovesOnlyExpired(t *testing.T) {
	c := New(10)
	fakeNow := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return fakeNow }

	short, long := uuid.New(), uuid.New()
	c.Flag(short, time.Second)
	c.Flag(long, time.Hour)

	fakeNow = fakeNow.Add(2 * time.Second)
	removed := c.ReapExpired()
	if removed != 1 {
		t.Fatalf("expected 1 expired entry removed, got %d", removed)
	}
	if !c.IsFlagged(long) {
		t.Fatal("expected the still-valid entry to remain flagged")
	}
}
