package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// TokenRefreshConfig holds refresh loop settings.
type TokenRefreshConfig struct {
	Tick        time.Duration
	LeadTime    time.Duration
	Concurrency int
	Jitter      time.Duration
	Logger      *slog.Logger
}

// TokenRefresh proactively refreshes expiring credentials so sync jobs
// rarely hit a 401. Each connection refresh is single-flighted through the
// distributed lock, so an executor's on-demand refresh and the background
// sweep cannot stampede the same provider token endpoint.
type TokenRefresh struct {
	connections driven.ConnectionStore
	registry    driven.ConnectorRegistry
	lock        driven.DistributedLock
	config      TokenRefreshConfig
	logger      *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTokenRefresh creates the refresh service. lock may be nil in
// single-instance deployments.
func NewTokenRefresh(connections driven.ConnectionStore, registry driven.ConnectorRegistry, lock driven.DistributedLock, config TokenRefreshConfig) *TokenRefresh {
	if config.Tick <= 0 {
		config.Tick = time.Hour
	}
	if config.LeadTime <= 0 {
		config.LeadTime = 10 * time.Minute
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenRefresh{
		connections: connections,
		registry:    registry,
		lock:        lock,
		config:      config,
		logger:      logger.With("component", "token_refresh"),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the refresh loop in a goroutine.
func (t *TokenRefresh) Start() {
	t.logger.Info("token refresh starting", "tick", t.config.Tick, "lead", t.config.LeadTime)
	go t.run()
}

// Stop signals the loop to exit and waits for the current sweep to finish.
func (t *TokenRefresh) Stop() {
	close(t.stopCh)
	<-t.doneCh
	t.logger.Info("token refresh stopped")
}

func (t *TokenRefresh) run() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.config.Tick)
	defer ticker.Stop()

	t.sweep()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *TokenRefresh) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.Tick)
	defer cancel()

	deadline := time.Now().UTC().Add(t.config.LeadTime)
	expiring, err := t.connections.ListExpiring(ctx, deadline)
	if err != nil {
		t.logger.Error("expiring connection list failed", "error", err)
		return
	}
	if len(expiring) == 0 {
		return
	}
	t.logger.Info("refreshing expiring credentials", "count", len(expiring))

	sem := make(chan struct{}, t.config.Concurrency)
	var wg sync.WaitGroup
	for _, conn := range expiring {
		select {
		case <-t.stopCh:
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(conn *domain.Connection) {
			defer wg.Done()
			defer func() { <-sem }()

			// Spread refreshes so a large expiring cohort does not hit
			// the provider token endpoint at once.
			if t.config.Jitter > 0 {
				delay := time.Duration(rand.Int63n(int64(t.config.Jitter)))
				select {
				case <-t.stopCh:
					return
				case <-time.After(delay):
				}
			}

			if _, err := t.RefreshNow(ctx, conn); err != nil {
				t.logger.Warn("credential refresh failed", "connection_id", conn.ID, "provider", conn.Provider, "error", err)
			}
		}(conn)
	}
	wg.Wait()
}

// RefreshNow refreshes one connection's credentials immediately, under the
// per-connection lock. When another instance holds the lock, the connection
// is reloaded instead: the concurrent refresh has either finished or will
// shortly, and the fresh row carries its result.
func (t *TokenRefresh) RefreshNow(ctx context.Context, conn *domain.Connection) (*domain.Connection, error) {
	if conn.Credentials == nil || conn.Credentials.RefreshToken == "" {
		return nil, fmt.Errorf("connection %s has no refresh token", conn.ID)
	}

	if t.lock != nil {
		key := "refresh:" + conn.ID
		acquired, err := t.lock.Acquire(ctx, key, 30*time.Second)
		if err == nil && !acquired {
			return t.awaitConcurrentRefresh(ctx, conn, key)
		}
		if err == nil {
			defer func() {
				if releaseErr := t.lock.Release(context.Background(), key); releaseErr != nil {
					t.logger.Warn("refresh lock release failed", "error", releaseErr)
				}
			}()
		}
		// Lock backend errors degrade to unsynchronized refresh.
	}

	connector, err := t.registry.Get(conn.Provider)
	if err != nil {
		return nil, err
	}

	next, err := connector.RefreshToken(ctx, conn.Credentials)
	if err != nil {
		se := domain.AsSyncError(err)
		if se.Kind == domain.SyncErrorPermanent || se.Kind == domain.SyncErrorUnauthorized {
			// Revoked or invalid grant. The tenant must re-authorize.
			if statusErr := t.connections.SetStatus(ctx, conn.ID, domain.ConnectionStatusError); statusErr != nil {
				t.logger.Warn("connection status update failed", "connection_id", conn.ID, "error", statusErr)
			}
		}
		return nil, se
	}

	merged := conn.Credentials.Merge(next)
	if err := t.connections.UpdateCredentials(ctx, conn.ID, merged); err != nil {
		return nil, err
	}

	refreshed := *conn
	refreshed.Credentials = merged
	refreshed.ExpiresAt = merged.Expiry
	t.logger.Info("credentials refreshed", "connection_id", conn.ID, "provider", conn.Provider)
	return &refreshed, nil
}

// awaitConcurrentRefresh polls for the in-flight refresh held by another
// instance to land, returning the reloaded connection.
func (t *TokenRefresh) awaitConcurrentRefresh(ctx context.Context, conn *domain.Connection, key string) (*domain.Connection, error) {
	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		acquired, err := t.lock.Acquire(ctx, key, 30*time.Second)
		if err != nil || !acquired {
			continue
		}
		if releaseErr := t.lock.Release(ctx, key); releaseErr != nil {
			t.logger.Warn("refresh lock release failed", "error", releaseErr)
		}
		return t.connections.Get(ctx, conn.ID)
	}
	return nil, fmt.Errorf("timed out waiting for concurrent refresh of connection %s", conn.ID)
}
