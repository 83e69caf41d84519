package postgres

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*AdvisoryLock)(nil)

// AdvisoryLock implements DistributedLock using PostgreSQL advisory locks.
//
// IMPORTANT LIMITATIONS:
// - Advisory locks are connection-scoped, not TTL-based
// - If the connection is lost, the lock is automatically released
// - The TTL parameter is ignored and Extend is a no-op
//
// For multi-worker deployments, the Redis lock is recommended. This is the
// fallback when Redis is not configured.
type AdvisoryLock struct {
	db *DB
}

// NewAdvisoryLock creates a new PostgreSQL advisory lock adapter.
func NewAdvisoryLock(db *DB) *AdvisoryLock {
	return &AdvisoryLock{db: db}
}

// hashLockName converts a lock name to a 64-bit key for pg advisory locks.
// FNV-1a for consistent, well-distributed values.
func hashLockName(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("conduit:lock:" + name))
	return int64(h.Sum64())
}

// Acquire attempts to take a named advisory lock without blocking.
// The TTL is ignored: the lock is held until released or the session ends.
func (l *AdvisoryLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", hashLockName(name)).Scan(&acquired)
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// Release releases a named advisory lock.
// Safe to call when the lock is not held (returns false but no error).
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	var released bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", hashLockName(name)).Scan(&released)
	return err
}

// Extend is a no-op: advisory locks have no TTL to extend.
func (l *AdvisoryLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *AdvisoryLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
