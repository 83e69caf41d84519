package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// mockJobStore implements driven.JobStore for testing
type mockJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.SyncJob
	order     []string
	enqueueFn func(job *domain.SyncJob) error
	claimFn   func() (*domain.SyncJob, error)
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[string]*domain.SyncJob)}
}

func (m *mockJobStore) Enqueue(ctx context.Context, job *domain.SyncJob) error {
	if m.enqueueFn != nil {
		return m.enqueueFn(job)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if job.IsInterval() {
		for _, existing := range m.jobs {
			if existing.ConnectionID == job.ConnectionID && existing.IsInterval() &&
				(existing.Status == domain.JobStatusQueued || existing.Status == domain.JobStatusRunning) {
				return domain.ErrJobConflict
			}
		}
	}
	copied := *job
	m.jobs[job.ID] = &copied
	m.order = append(m.order, job.ID)
	return nil
}

func (m *mockJobStore) Claim(ctx context.Context) (*domain.SyncJob, error) {
	if m.claimFn != nil {
		return m.claimFn()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Status != domain.JobStatusQueued {
			continue
		}
		if job.RetryAfter != nil && job.RetryAfter.After(now) {
			continue
		}
		running := false
		for _, other := range m.jobs {
			if other.ConnectionID == job.ConnectionID && other.Status == domain.JobStatusRunning {
				running = true
				break
			}
		}
		if running {
			continue
		}
		job.Status = domain.JobStatusRunning
		job.Attempts++
		started := now
		job.StartedAt = &started
		copied := *job
		return &copied, nil
	}
	return nil, nil
}

func (m *mockJobStore) MarkSucceeded(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusSucceeded
	finished := time.Now()
	job.FinishedAt = &finished
	return nil
}

func (m *mockJobStore) MarkFailed(ctx context.Context, jobID string, jobErr *domain.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusFailed
	job.Error = jobErr
	finished := time.Now()
	job.FinishedAt = &finished
	return nil
}

func (m *mockJobStore) Requeue(ctx context.Context, jobID string, retryAfter time.Time, jobErr *domain.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusQueued
	job.RetryAfter = &retryAfter
	job.Error = jobErr
	job.StartedAt = nil
	return nil
}

func (m *mockJobStore) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusRunning && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			job.Status = domain.JobStatusQueued
			job.StartedAt = nil
			count++
		}
	}
	return count, nil
}

func (m *mockJobStore) Get(ctx context.Context, jobID string) (*domain.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *mockJobStore) List(ctx context.Context, filter driven.JobFilter) ([]*domain.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.SyncJob
	for i := len(m.order) - 1; i >= 0; i-- {
		job := m.jobs[m.order[i]]
		if filter.ConnectionID != "" && job.ConnectionID != filter.ConnectionID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		copied := *job
		result = append(result, &copied)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *mockJobStore) Ping(ctx context.Context) error { return nil }

func (m *mockJobStore) byStatus(status domain.JobStatus) []*domain.SyncJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.SyncJob
	for _, id := range m.order {
		if m.jobs[id].Status == status {
			copied := *m.jobs[id]
			result = append(result, &copied)
		}
	}
	return result
}

func (m *mockJobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// mockConnectionStore implements driven.ConnectionStore for testing
type mockConnectionStore struct {
	mu          sync.Mutex
	connections map[string]*domain.Connection
	resolveFn   func(tenantID string, provider domain.ProviderType) (*domain.Connection, error)
}

func newMockConnectionStore() *mockConnectionStore {
	return &mockConnectionStore{connections: make(map[string]*domain.Connection)}
}

func (m *mockConnectionStore) Get(ctx context.Context, id string) (*domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *conn
	return &copied, nil
}

func (m *mockConnectionStore) GetByAccount(ctx context.Context, tenantID string, provider domain.ProviderType, externalAccountID string) (*domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conn := range m.connections {
		if conn.TenantID == tenantID && conn.Provider == provider && conn.ExternalAccountID == externalAccountID {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockConnectionStore) List(ctx context.Context, tenantID string) ([]*domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.Connection
	for _, conn := range m.connections {
		if conn.TenantID == tenantID {
			copied := *conn
			copied.Credentials = nil
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockConnectionStore) Save(ctx context.Context, conn *domain.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *conn
	m.connections[conn.ID] = &copied
	return nil
}

func (m *mockConnectionStore) UpdateCredentials(ctx context.Context, id string, creds *domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[id]
	if !ok {
		return domain.ErrNotFound
	}
	conn.Credentials = creds
	conn.ExpiresAt = creds.Expiry
	return nil
}

func (m *mockConnectionStore) UpdateCursor(ctx context.Context, id string, cursor json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[id]
	if !ok {
		return domain.ErrNotFound
	}
	if cursor != nil {
		conn.Cursor = cursor
	}
	return nil
}

func (m *mockConnectionStore) SetStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[id]
	if !ok {
		return domain.ErrNotFound
	}
	conn.Status = status
	return nil
}

func (m *mockConnectionStore) ListExpiring(ctx context.Context, deadline time.Time) ([]*domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.Connection
	for _, conn := range m.connections {
		if conn.Status == domain.ConnectionStatusActive && conn.ExpiresAt != nil && !conn.ExpiresAt.After(deadline) {
			copied := *conn
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockConnectionStore) ResolveForWebhook(ctx context.Context, tenantID string, provider domain.ProviderType) (*domain.Connection, error) {
	if m.resolveFn != nil {
		return m.resolveFn(tenantID, provider)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var primary, newest *domain.Connection
	for _, conn := range m.connections {
		if conn.TenantID != tenantID || conn.Provider != provider || conn.Status != domain.ConnectionStatusActive {
			continue
		}
		if conn.IsPrimary() {
			primary = conn
		}
		if newest == nil || conn.CreatedAt.After(newest.CreatedAt) {
			newest = conn
		}
	}
	if primary != nil {
		copied := *primary
		return &copied, nil
	}
	if newest != nil {
		copied := *newest
		return &copied, nil
	}
	return nil, domain.ErrNotFound
}

// mockSignalStore implements driven.SignalStore for testing
type mockSignalStore struct {
	mu      sync.Mutex
	signals []*domain.Signal
	saveFn  func(signals []*domain.Signal) (int, error)
}

func newMockSignalStore() *mockSignalStore {
	return &mockSignalStore{}
}

func (m *mockSignalStore) SaveBatch(ctx context.Context, signals []*domain.Signal) (int, error) {
	if m.saveFn != nil {
		return m.saveFn(signals)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := 0
	for _, sig := range signals {
		dup := false
		if sig.DedupeKey != "" {
			for _, existing := range m.signals {
				if existing.ConnectionID == sig.ConnectionID && existing.DedupeKey == sig.DedupeKey {
					dup = true
					break
				}
			}
		}
		if dup {
			continue
		}
		m.signals = append(m.signals, sig)
		stored++
	}
	return stored, nil
}

func (m *mockSignalStore) List(ctx context.Context, filter driven.SignalFilter) ([]*domain.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.Signal
	for _, sig := range m.signals {
		if filter.TenantID != "" && sig.TenantID != filter.TenantID {
			continue
		}
		if filter.ConnectionID != "" && sig.ConnectionID != filter.ConnectionID {
			continue
		}
		if filter.Kind != "" && sig.Kind != filter.Kind {
			continue
		}
		result = append(result, sig)
	}
	return result, nil
}

func (m *mockSignalStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.signals)
}

// mockConnector implements driven.Connector for testing
type mockConnector struct {
	providerType domain.ProviderType
	info         domain.ProviderInfo
	syncFn       func(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*driven.SyncResult, error)
	refreshFn    func(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error)
	exchangeFn   func(ctx context.Context, code, redirectURI string) (*domain.Credentials, error)
	webhookFn    func(ctx context.Context, payload driven.WebhookPayload) ([]*domain.Signal, error)
}

func newMockConnector(provider domain.ProviderType) *mockConnector {
	return &mockConnector{
		providerType: provider,
		info: domain.ProviderInfo{
			Type:      provider,
			Name:      string(provider),
			AuthType:  domain.AuthTypeOAuth2,
			Webhooks:  true,
			Signature: domain.SignatureSchemeHMACSHA256,
		},
	}
}

func (m *mockConnector) Type() domain.ProviderType { return m.providerType }
func (m *mockConnector) Info() domain.ProviderInfo { return m.info }

func (m *mockConnector) Authorize(state, redirectURI string) string {
	return "https://example.com/oauth/authorize?state=" + state
}

func (m *mockConnector) ExchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, redirectURI)
	}
	return &domain.Credentials{AccessToken: "access-" + code, AccountID: "account-1"}, nil
}

func (m *mockConnector) RefreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, creds)
	}
	return &domain.Credentials{AccessToken: "refreshed"}, nil
}

func (m *mockConnector) Sync(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*driven.SyncResult, error) {
	if m.syncFn != nil {
		return m.syncFn(ctx, conn, cursor)
	}
	return &driven.SyncResult{}, nil
}

func (m *mockConnector) HandleWebhook(ctx context.Context, payload driven.WebhookPayload) ([]*domain.Signal, error) {
	if m.webhookFn != nil {
		return m.webhookFn(ctx, payload)
	}
	return nil, nil
}

// mockRegistry implements driven.ConnectorRegistry for testing
type mockRegistry struct {
	connectors map[domain.ProviderType]driven.Connector
}

func newMockRegistry(connectors ...driven.Connector) *mockRegistry {
	m := &mockRegistry{connectors: make(map[domain.ProviderType]driven.Connector)}
	for _, c := range connectors {
		m.connectors[c.Type()] = c
	}
	return m
}

func (m *mockRegistry) Get(provider domain.ProviderType) (driven.Connector, error) {
	c, ok := m.connectors[provider]
	if !ok {
		return nil, domain.ErrConnectorNotFound
	}
	return c, nil
}

func (m *mockRegistry) List() []domain.ProviderInfo {
	var result []domain.ProviderInfo
	for _, c := range m.connectors {
		result = append(result, c.Info())
	}
	return result
}

// mockLock implements driven.DistributedLock for testing
type mockLock struct {
	mu    sync.Mutex
	held  map[string]bool
	fail  bool
	deny  bool
	order []string
}

func newMockLock() *mockLock {
	return &mockLock{held: make(map[string]bool)}
}

func (m *mockLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return false, context.DeadlineExceeded
	}
	if m.deny || m.held[name] {
		return false, nil
	}
	m.held[name] = true
	m.order = append(m.order, "acquire:"+name)
	return true, nil
}

func (m *mockLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.held, name)
	m.order = append(m.order, "release:"+name)
	return nil
}

func (m *mockLock) Extend(ctx context.Context, name string, ttl time.Duration) error { return nil }
func (m *mockLock) Ping(ctx context.Context) error                                   { return nil }

// mockSchedulerStore implements driven.SchedulerStore for testing
type mockSchedulerStore struct {
	mu          sync.Mutex
	connections []*domain.Connection
	plans       []*driven.SchedulePlan
	claimFn     func(now time.Time, limit int, plan func(*domain.Connection) (*driven.SchedulePlan, error)) (int, error)
}

func newMockSchedulerStore(connections ...*domain.Connection) *mockSchedulerStore {
	return &mockSchedulerStore{connections: connections}
}

func (m *mockSchedulerStore) ClaimDue(ctx context.Context, now time.Time, limit int, plan func(*domain.Connection) (*driven.SchedulePlan, error)) (int, error) {
	if m.claimFn != nil {
		return m.claimFn(now, limit, plan)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, conn := range m.connections {
		if count >= limit {
			break
		}
		due := conn.Sync.NextRunAt == nil || !conn.Sync.NextRunAt.After(now)
		if !due || conn.Status != domain.ConnectionStatusActive {
			continue
		}
		p, err := plan(conn)
		if err != nil {
			return count, err
		}
		next := p.NextRunAt
		conn.Sync.NextRunAt = &next
		conn.Sync.LastJitterSeconds = p.JitterSeconds
		m.plans = append(m.plans, p)
		count++
	}
	return count, nil
}

func (m *mockSchedulerStore) planned() []*driven.SchedulePlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*driven.SchedulePlan(nil), m.plans...)
}

// mockStateStore implements driven.OAuthStateStore for testing
type mockStateStore struct {
	mu     sync.Mutex
	states map[string]*driven.OAuthState
}

func newMockStateStore() *mockStateStore {
	return &mockStateStore{states: make(map[string]*driven.OAuthState)}
}

func (m *mockStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[state.State] = state
	return nil
}

func (m *mockStateStore) GetAndDelete(ctx context.Context, state string) (*driven.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[state]
	if !ok {
		return nil, nil
	}
	delete(m.states, state)
	return s, nil
}

func (m *mockStateStore) Cleanup(ctx context.Context) error { return nil }

// activeConnection builds a minimal active connection for tests
func activeConnection(id, tenantID string, provider domain.ProviderType) *domain.Connection {
	now := time.Now()
	return &domain.Connection{
		ID:                id,
		TenantID:          tenantID,
		Provider:          provider,
		ExternalAccountID: "account-" + id,
		Status:            domain.ConnectionStatusActive,
		Credentials:       &domain.Credentials{AccessToken: "token", RefreshToken: "refresh"},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
