package domain

import (
	"encoding/json"
	"math/rand"
	"time"
)

// ConnectionStatus represents the health of a connection
type ConnectionStatus string

const (
	ConnectionStatusActive ConnectionStatus = "active"
	ConnectionStatusError  ConnectionStatus = "error"
)

// Sync interval bounds and defaults, in seconds.
const (
	MinSyncIntervalSeconds     = 60
	MaxSyncIntervalSeconds     = 86400
	DefaultSyncIntervalSeconds = 900

	// SchedulerJitterFraction bounds scheduler jitter to 20% of the interval.
	SchedulerJitterFraction = 0.2
)

// SyncSettings holds the scheduler state stored on a connection.
// Mutated only by the scheduler, under row-level locking.
type SyncSettings struct {
	// IntervalSeconds overrides the default sync interval when non-zero.
	IntervalSeconds int `json:"interval_seconds,omitempty"`

	// NextRunAt is when the next incremental sync is due.
	// nil means the connection has never been scheduled (bootstrap).
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	// LastJitterSeconds records the jitter applied on the last schedule.
	LastJitterSeconds float64 `json:"last_jitter_seconds,omitempty"`
}

// Connection is a tenant's authorization to one provider.
type Connection struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	Provider          ProviderType     `json:"provider"`
	ExternalAccountID string           `json:"external_account_id"`
	Status            ConnectionStatus `json:"status"`

	// Credentials is populated by stores on read and encrypted at rest.
	Credentials *Credentials `json:"-"`

	// ExpiresAt mirrors the credential expiry for refresh selection.
	// nil = non-expiring.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Metadata is arbitrary provider-specific configuration.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Cursor is the durable last-known-good incremental progress marker.
	// Opaque and provider-defined. Never regresses.
	Cursor json.RawMessage `json:"cursor,omitempty"`

	Sync SyncSettings `json:"sync"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveInterval returns the sync interval clamped to [60s, 86400s].
// A zero override falls back to the default of 900s.
func (c *Connection) EffectiveInterval() time.Duration {
	secs := c.Sync.IntervalSeconds
	if secs == 0 {
		secs = DefaultSyncIntervalSeconds
	}
	if secs < MinSyncIntervalSeconds {
		secs = MinSyncIntervalSeconds
	}
	if secs > MaxSyncIntervalSeconds {
		secs = MaxSyncIntervalSeconds
	}
	return time.Duration(secs) * time.Second
}

// IsPrimary reports whether this connection is marked as the webhook target
// for its (tenant, provider) pair.
func (c *Connection) IsPrimary() bool {
	v, ok := c.Metadata["primary"].(bool)
	return ok && v
}

// NextDue computes the next run for a connection at time now.
//
// The max(now, base+interval) clause collapses catch-up after downtime into a
// single immediate run instead of a backlog burst. Jitter is uniform in
// [0, 0.2*interval] to spread synchronized connections apart.
func (c *Connection) NextDue(now time.Time) (due time.Time, jitter time.Duration) {
	interval := c.EffectiveInterval()

	base := now // bootstrap: never scheduled means run immediately
	if c.Sync.NextRunAt != nil {
		base = c.Sync.NextRunAt.Add(interval)
	}
	if base.Before(now) {
		base = now
	}

	jitter = time.Duration(rand.Float64() * SchedulerJitterFraction * float64(interval))
	return base.Add(jitter), jitter
}
