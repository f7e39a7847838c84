package keystore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const keyColumns = `id, secret, provider, status, model_coolings, total_cooling_seconds, created_at, updated_at`

// PostgresRepository is the production Repository implementation, backed by
// the gateway_keys table. Every operation maps directly onto the schema in
// spec.md §3; no ORM is used, following the donor's raw-SQL store style.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a Repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanKeyRow(row pgx.Row) (Key, error) {
	var k Key
	var coolingsRaw []byte
	err := row.Scan(
		&k.ID, &k.Secret, &k.Provider, &k.Status, &coolingsRaw,
		&k.TotalCoolingSeconds, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return Key{}, err
	}
	if len(coolingsRaw) > 0 {
		if err := json.Unmarshal(coolingsRaw, &k.ModelCoolings); err != nil {
			return Key{}, fmt.Errorf("decoding model_coolings: %w", err)
		}
	}
	return k, nil
}

// ListActive returns all rows where status = active for the provider,
// ordered by created_at so ranking tie-breaks are deterministic even before
// the Health Scorer runs.
func (r *PostgresRepository) ListActive(ctx context.Context, provider string) ([]Key, error) {
	query := `SELECT ` + keyColumns + ` FROM gateway_keys WHERE provider = $1 AND status = $2 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, provider, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("%w: listing active keys: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		k, err := scanKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning key row: %v", ErrStoreUnavailable, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating key rows: %v", ErrStoreUnavailable, err)
	}
	return keys, nil
}

// UpdateStatus sets status for a single row atomically.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, keyID uuid.UUID, status Status) error {
	query := `UPDATE gateway_keys SET status = $1, updated_at = now() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, query, status, keyID)
	if err != nil {
		return fmt.Errorf("%w: updating key status: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExtendCooldown sets cooldown_ends_at_epoch_s = max(existing, now+duration)
// for the model and increments total_cooling_seconds by duration_s, both in
// a single statement so concurrent writers never race on the read-modify-write.
func (r *PostgresRepository) ExtendCooldown(ctx context.Context, keyID uuid.UUID, model string, duration time.Duration) error {
	durationS := int64(duration.Seconds())
	nowEnd := time.Now().Add(duration).Unix()

	query := `
		UPDATE gateway_keys
		SET
			model_coolings = jsonb_set(
				coalesce(model_coolings, '{}'::jsonb),
				array[$2::text],
				jsonb_build_object(
					'total_cooling_seconds_lifetime',
					coalesce((model_coolings #>> array[$2::text, 'total_cooling_seconds_lifetime'])::bigint, 0) + $3::bigint,
					'cooldown_ends_at_epoch_s',
					greatest(coalesce((model_coolings #>> array[$2::text, 'cooldown_ends_at_epoch_s'])::bigint, 0), $4::bigint)
				),
				true
			),
			total_cooling_seconds = total_cooling_seconds + $3::bigint,
			updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, keyID, model, durationS, nowEnd)
	if err != nil {
		return fmt.Errorf("%w: extending cooldown: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMany bulk-inserts new active keys for a provider inside one
// transaction so a partial failure leaves no orphan rows.
func (r *PostgresRepository) InsertMany(ctx context.Context, provider string, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO gateway_keys (provider, secret, status) VALUES ($1, $2, $3) ON CONFLICT (provider, secret) DO NOTHING`
	for _, secret := range secrets {
		if _, err := tx.Exec(ctx, query, provider, secret, StatusActive); err != nil {
			return fmt.Errorf("%w: inserting key: %v", ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing insert: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete permanently removes a key row.
func (r *PostgresRepository) Delete(ctx context.Context, keyID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM gateway_keys WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("%w: deleting key: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllBlocked removes every blocked key for a provider.
func (r *PostgresRepository) DeleteAllBlocked(ctx context.Context, provider string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM gateway_keys WHERE provider = $1 AND status = $2`, provider, StatusBlocked)
	if err != nil {
		return fmt.Errorf("%w: deleting blocked keys: %v", ErrStoreUnavailable, err)
	}
	return nil
}
