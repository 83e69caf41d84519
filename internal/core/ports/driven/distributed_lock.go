package driven

import (
	"context"
	"time"
)

// DistributedLock coordinates work across process instances.
// Used by the scheduler to avoid duplicate sweeps and by the token-refresh
// service for per-connection single-flight.
type DistributedLock interface {
	// Acquire attempts to take a named lock with the given TTL.
	// Returns true if acquired, false if held by another instance.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Release releases a named lock if held by this instance.
	// Safe to call when the lock is not held or has expired.
	Release(ctx context.Context, name string) error

	// Extend extends the TTL of a currently held lock.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
