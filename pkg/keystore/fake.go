package keystore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeRepository is an in-memory Repository used by unit tests across the
// core packages. It is not gated behind a build tag because, unlike a real
// driver, it has no external dependencies to avoid pulling into production
// binaries.
type FakeRepository struct {
	mu   sync.Mutex
	keys map[uuid.UUID]Key

	// ListActiveErr, when set, is returned by ListActive instead of a result,
	// simulating a StoreUnavailable condition.
	ListActiveErr error

	// ListActiveCalls counts invocations, used by the Main Cache's
	// single-flight tests to assert coalescing.
	ListActiveCalls int
}

// NewFakeRepository creates an empty FakeRepository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{keys: make(map[uuid.UUID]Key)}
}

// Seed inserts a key directly, bypassing InsertMany, for test setup.
func (f *FakeRepository) Seed(k Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.Status == "" {
		k.Status = StatusActive
	}
	if k.ModelCoolings == nil {
		k.ModelCoolings = map[string]ModelCooldown{}
	}
	f.keys[k.ID] = k
}

func (f *FakeRepository) ListActive(_ context.Context, provider string) ([]Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListActiveCalls++
	if f.ListActiveErr != nil {
		return nil, f.ListActiveErr
	}
	var out []Key
	for _, k := range f.keys {
		if k.Provider == provider && k.Status == StatusActive {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *FakeRepository) UpdateStatus(_ context.Context, keyID uuid.UUID, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	k.Status = status
	k.UpdatedAt = time.Now()
	f.keys[keyID] = k
	return nil
}

func (f *FakeRepository) ExtendCooldown(_ context.Context, keyID uuid.UUID, model string, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	if k.ModelCoolings == nil {
		k.ModelCoolings = map[string]ModelCooldown{}
	}
	mc := k.ModelCoolings[model]
	newEnd := time.Now().Add(duration).Unix()
	if newEnd > mc.CooldownEndsAtEpochS {
		mc.CooldownEndsAtEpochS = newEnd
	}
	mc.TotalCoolingSecondsLifetime += int64(duration.Seconds())
	k.ModelCoolings[model] = mc
	k.TotalCoolingSeconds += int64(duration.Seconds())
	k.UpdatedAt = time.Now()
	f.keys[keyID] = k
	return nil
}

func (f *FakeRepository) InsertMany(_ context.Context, provider string, secrets []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, s := range secrets {
		id := uuid.New()
		f.keys[id] = Key{
			ID:            id,
			Secret:        s,
			Provider:      provider,
			Status:        StatusActive,
			ModelCoolings: map[string]ModelCooldown{},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return nil
}

func (f *FakeRepository) Delete(_ context.Context, keyID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[keyID]; !ok {
		return ErrNotFound
	}
	delete(f.keys, keyID)
	return nil
}

func (f *FakeRepository) DeleteAllBlocked(_ context.Context, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, k := range f.keys {
		if k.Provider == provider && k.Status == StatusBlocked {
			delete(f.keys, id)
		}
	}
	return nil
}

// Get returns a copy of the key for assertions in tests.
func (f *FakeRepository) Get(keyID uuid.UUID) (Key, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	return k, ok
}
