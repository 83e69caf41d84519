package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// JobType identifies what triggered a sync job
type JobType string

const (
	// JobTypeFull re-syncs from the beginning, ignoring the stored cursor
	JobTypeFull JobType = "full"
	// JobTypeIncremental continues from the connection's cursor
	JobTypeIncremental JobType = "incremental"
	// JobTypeWebhook was triggered by an inbound provider push
	JobTypeWebhook JobType = "webhook"
)

// JobStatus represents the current state of a sync job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Claim order: higher priority first, then oldest scheduled_at.
const (
	JobPriorityScheduled = 0
	JobPriorityWebhook   = 5
	JobPriorityManual    = 10
)

// JobError is the structured failure detail persisted on a job row.
type JobError struct {
	Kind           SyncErrorKind `json:"kind"`
	Message        string        `json:"message"`
	RetryAfterSecs int           `json:"retry_after_secs,omitempty"`
}

// SyncJob is one unit of scheduled or triggered connector work.
// Created by the scheduler or webhook ingest; mutated exclusively by the
// executor; never deleted (append-only history).
type SyncJob struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Provider     ProviderType `json:"provider"`
	ConnectionID string       `json:"connection_id"`

	Type   JobType   `json:"type"`
	Status JobStatus `json:"status"`

	// Priority determines claim order (higher = more urgent).
	Priority int `json:"priority"`

	// Attempts is how many times this job has been claimed.
	Attempts int `json:"attempts"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	RetryAfter  *time.Time `json:"retry_after,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	// Cursor is the pagination handoff between continuation jobs.
	// Takes precedence over the connection's stored cursor when set.
	Cursor json.RawMessage `json:"cursor,omitempty"`

	Error *JobError `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSyncJob creates a queued job for a connection.
func NewSyncJob(conn *Connection, jobType JobType, scheduledAt time.Time) *SyncJob {
	now := time.Now()
	return &SyncJob{
		ID:           GenerateID(),
		TenantID:     conn.TenantID,
		Provider:     conn.Provider,
		ConnectionID: conn.ID,
		Type:         jobType,
		Status:       JobStatusQueued,
		ScheduledAt:  scheduledAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsInterval reports whether the job counts against the one-queued-or-running
// interval job invariant. Webhook jobs are exempt.
func (j *SyncJob) IsInterval() bool {
	return j.Type == JobTypeFull || j.Type == JobTypeIncremental
}

// Terminal reports whether the job has reached a final state.
func (j *SyncJob) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
