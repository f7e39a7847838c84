// Package keystore defines the Key entity and the durable repository that
// persists it, backed by Postgres via pgx.
package keystore

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Key. Only Active keys are selection
// candidates; Blocked is permanent until an administrative action clears it.
type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
)

// ModelCooldown tracks the cooldown history for one (key, model) pair.
type ModelCooldown struct {
	TotalCoolingSecondsLifetime int64 `json:"total_cooling_seconds_lifetime"`
	CooldownEndsAtEpochS        int64 `json:"cooldown_ends_at_epoch_s"`
}

// Key is the persistent entity described in spec.md §3. Secret is the raw
// credential material, treated as opaque bytes for injection — it is never
// logged or surfaced in responses.
type Key struct {
	ID                  uuid.UUID
	Secret              string
	Provider            string
	Status              Status
	ModelCoolings       map[string]ModelCooldown
	TotalCoolingSeconds int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CooldownEndsAt returns the cooldown expiry for the given model, or the
// zero time if the key has never cooled for that model.
func (k *Key) CooldownEndsAt(model string) time.Time {
	if k == nil || k.ModelCoolings == nil || model == "" {
		return time.Time{}
	}
	mc, ok := k.ModelCoolings[model]
	if !ok || mc.CooldownEndsAtEpochS == 0 {
		return time.Time{}
	}
	return time.Unix(mc.CooldownEndsAtEpochS, 0)
}

// IsCoolingForModel reports whether the key is presently inside a per-model
// cooldown window. Per spec.md §9 Open Question (b), this implementation
// honors per-model cooldowns in addition to the process-wide Cooldown Cache
// (see DESIGN.md).
func (k *Key) IsCoolingForModel(model string, now time.Time) bool {
	end := k.CooldownEndsAt(model)
	return !end.IsZero() && now.Before(end)
}
