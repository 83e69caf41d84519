package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

func expiringConnection(id string, in time.Duration) *domain.Connection {
	conn := activeConnection(id, "tenant-1", domain.ProviderTypeGmail)
	expiry := time.Now().Add(in)
	conn.Credentials.Expiry = &expiry
	conn.ExpiresAt = &expiry
	return conn
}

func TestTokenRefreshSweepRefreshesExpiring(t *testing.T) {
	connections := newMockConnectionStore()
	expiring := expiringConnection("conn-1", 5*time.Minute)
	healthy := expiringConnection("conn-2", 48*time.Hour)
	nonExpiring := activeConnection("conn-3", "tenant-1", domain.ProviderTypeGmail)
	for _, c := range []*domain.Connection{expiring, healthy, nonExpiring} {
		if err := connections.Save(context.Background(), c); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	connector := newMockConnector(domain.ProviderTypeGmail)
	refreshed := 0
	connector.refreshFn = func(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
		refreshed++
		expiry := time.Now().Add(time.Hour)
		return &domain.Credentials{AccessToken: "fresh", RefreshToken: "new-refresh", Expiry: &expiry}, nil
	}

	svc := NewTokenRefresh(connections, newMockRegistry(connector), nil, TokenRefreshConfig{LeadTime: 10 * time.Minute})
	svc.sweep()

	if refreshed != 1 {
		t.Fatalf("expected exactly the expiring connection refreshed, got %d", refreshed)
	}

	reloaded, _ := connections.Get(context.Background(), expiring.ID)
	if reloaded.Credentials.AccessToken != "fresh" {
		t.Errorf("credentials not updated: %s", reloaded.Credentials.AccessToken)
	}
	if reloaded.Credentials.RefreshToken != "new-refresh" {
		t.Errorf("refresh token not rotated: %s", reloaded.Credentials.RefreshToken)
	}
}

func TestTokenRefreshSweepSkipsFlaggedConnections(t *testing.T) {
	connections := newMockConnectionStore()
	flagged := expiringConnection("conn-1", 5*time.Minute)
	flagged.Status = domain.ConnectionStatusError
	if err := connections.Save(context.Background(), flagged); err != nil {
		t.Fatalf("save: %v", err)
	}

	connector := newMockConnector(domain.ProviderTypeGmail)
	refreshed := 0
	connector.refreshFn = func(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
		refreshed++
		return &domain.Credentials{AccessToken: "fresh"}, nil
	}

	svc := NewTokenRefresh(connections, newMockRegistry(connector), nil, TokenRefreshConfig{LeadTime: 10 * time.Minute})
	svc.sweep()

	// A connection whose grant was revoked stays out of the sweep until
	// the tenant re-authorizes; retrying it every tick is pointless churn.
	if refreshed != 0 {
		t.Fatalf("expected no refresh for an error connection, got %d", refreshed)
	}
}

func TestTokenRefreshReusesPreviousRefreshToken(t *testing.T) {
	connections := newMockConnectionStore()
	conn := expiringConnection("conn-1", 5*time.Minute)
	if err := connections.Save(context.Background(), conn); err != nil {
		t.Fatalf("save: %v", err)
	}

	connector := newMockConnector(domain.ProviderTypeGmail)
	connector.refreshFn = func(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
		// Provider omitted the refresh token: the previous one carries over.
		return &domain.Credentials{AccessToken: "fresh"}, nil
	}

	svc := NewTokenRefresh(connections, newMockRegistry(connector), nil, TokenRefreshConfig{})
	result, err := svc.RefreshNow(context.Background(), conn)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if result.Credentials.RefreshToken != "refresh" {
		t.Errorf("expected previous refresh token reused, got %q", result.Credentials.RefreshToken)
	}

	reloaded, _ := connections.Get(context.Background(), conn.ID)
	if reloaded.Credentials.RefreshToken != "refresh" {
		t.Errorf("stored refresh token should be the previous one, got %q", reloaded.Credentials.RefreshToken)
	}
}

func TestTokenRefreshInvalidGrantFlagsConnection(t *testing.T) {
	connections := newMockConnectionStore()
	conn := expiringConnection("conn-1", 5*time.Minute)
	if err := connections.Save(context.Background(), conn); err != nil {
		t.Fatalf("save: %v", err)
	}

	connector := newMockConnector(domain.ProviderTypeGmail)
	connector.refreshFn = func(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
		return nil, domain.Permanentf("invalid_grant")
	}

	svc := NewTokenRefresh(connections, newMockRegistry(connector), nil, TokenRefreshConfig{})
	if _, err := svc.RefreshNow(context.Background(), conn); err == nil {
		t.Fatal("expected refresh error")
	}

	reloaded, _ := connections.Get(context.Background(), conn.ID)
	if reloaded.Status != domain.ConnectionStatusError {
		t.Errorf("revoked grant should flag the connection, got %s", reloaded.Status)
	}
}

func TestTokenRefreshTransientFailureKeepsConnectionActive(t *testing.T) {
	connections := newMockConnectionStore()
	conn := expiringConnection("conn-1", 5*time.Minute)
	if err := connections.Save(context.Background(), conn); err != nil {
		t.Fatalf("save: %v", err)
	}

	connector := newMockConnector(domain.ProviderTypeGmail)
	connector.refreshFn = func(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
		return nil, domain.Transient(errors.New("token endpoint 503"))
	}

	svc := NewTokenRefresh(connections, newMockRegistry(connector), nil, TokenRefreshConfig{})
	if _, err := svc.RefreshNow(context.Background(), conn); err == nil {
		t.Fatal("expected refresh error")
	}

	reloaded, _ := connections.Get(context.Background(), conn.ID)
	if reloaded.Status != domain.ConnectionStatusActive {
		t.Errorf("transient failure must not flag the connection, got %s", reloaded.Status)
	}
}

func TestTokenRefreshNoRefreshToken(t *testing.T) {
	conn := activeConnection("conn-1", "tenant-1", domain.ProviderTypeGmail)
	conn.Credentials.RefreshToken = ""

	svc := NewTokenRefresh(newMockConnectionStore(), newMockRegistry(), nil, TokenRefreshConfig{})
	if _, err := svc.RefreshNow(context.Background(), conn); err == nil {
		t.Error("expected error for a connection without a refresh token")
	}
}

func TestTokenRefreshSingleFlightUnderLock(t *testing.T) {
	connections := newMockConnectionStore()
	conn := expiringConnection("conn-1", 5*time.Minute)
	if err := connections.Save(context.Background(), conn); err != nil {
		t.Fatalf("save: %v", err)
	}

	connector := newMockConnector(domain.ProviderTypeGmail)
	calls := 0
	connector.refreshFn = func(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
		calls++
		return &domain.Credentials{AccessToken: "fresh"}, nil
	}

	lock := newMockLock()
	svc := NewTokenRefresh(connections, newMockRegistry(connector), lock, TokenRefreshConfig{})

	// Simulate another instance holding the per-connection lock briefly.
	key := "refresh:" + conn.ID
	if ok, _ := lock.Acquire(context.Background(), key, time.Minute); !ok {
		t.Fatal("test setup: could not take the lock")
	}
	go func() {
		time.Sleep(600 * time.Millisecond)
		_ = lock.Release(context.Background(), key)
	}()

	result, err := svc.RefreshNow(context.Background(), conn)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if calls != 0 {
		t.Errorf("waiter must not refresh itself, connector called %d times", calls)
	}
	if result.ID != conn.ID {
		t.Errorf("expected the reloaded connection, got %s", result.ID)
	}
}
