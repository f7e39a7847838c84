package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStoreUnavailable wraps any repository I/O failure, per spec.md §7. The
// Main Cache treats it specially: stale entries are served rather than
// propagated, as long as a previous snapshot exists.
var ErrStoreUnavailable = errors.New("keystore: store unavailable")

// ErrNotFound is returned when a key lookup or mutation targets a row that
// does not exist.
var ErrNotFound = errors.New("keystore: key not found")

// Repository is the durable Key Repository interface the core consumes
// (spec.md §4.1). The core never depends on a concrete database driver
// directly — only on this interface — so it can be satisfied by a fake in
// unit tests and by *PostgresRepository in production.
type Repository interface {
	// ListActive returns all rows with status = active for the provider.
	ListActive(ctx context.Context, provider string) ([]Key, error)

	// UpdateStatus atomically sets a key's status.
	UpdateStatus(ctx context.Context, keyID uuid.UUID, status Status) error

	// ExtendCooldown sets cooldown_ends_at_epoch_s = max(existing, now+duration)
	// for the given model and increments total_cooling_seconds by duration.
	ExtendCooldown(ctx context.Context, keyID uuid.UUID, model string, duration time.Duration) error

	// InsertMany bulk-inserts new active keys for a provider.
	InsertMany(ctx context.Context, provider string, secrets []string) error

	// Delete permanently removes a key row.
	Delete(ctx context.Context, keyID uuid.UUID) error

	// DeleteAllBlocked removes every blocked key for a provider.
	DeleteAllBlocked(ctx context.Context, provider string) error
}
