package domain

import (
	"encoding/json"
	"time"
)

// SignalKind is the canonical event taxonomy, action-first.
type SignalKind string

const (
	SignalIssueCreated   SignalKind = "issue_created"
	SignalIssueUpdated   SignalKind = "issue_updated"
	SignalIssueClosed    SignalKind = "issue_closed"
	SignalMessagePosted  SignalKind = "message_posted"
	SignalEmailReceived  SignalKind = "email_received"
	SignalEventCreated   SignalKind = "event_created"
	SignalEventUpdated   SignalKind = "event_updated"
	SignalFileCreated    SignalKind = "file_created"
	SignalFileModified   SignalKind = "file_modified"
	SignalFileTrashed    SignalKind = "file_trashed"
	SignalCommentCreated SignalKind = "comment_created"
)

// Signal is one normalized event, the externally visible artifact of a
// successful sync. Immutable once created.
type Signal struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Provider     ProviderType `json:"provider"`
	ConnectionID string       `json:"connection_id"`

	Kind SignalKind `json:"kind"`

	// OccurredAt is the provider's event time; ReceivedAt is ingest time.
	OccurredAt time.Time `json:"occurred_at"`
	ReceivedAt time.Time `json:"received_at"`

	// Payload is the normalized event body.
	Payload json.RawMessage `json:"payload"`

	// DedupeKey suppresses duplicates per connection when set.
	DedupeKey string `json:"dedupe_key,omitempty"`
}

// NewSignal creates a signal stamped with the current ingest time.
func NewSignal(kind SignalKind, occurredAt time.Time, payload json.RawMessage) *Signal {
	return &Signal{
		ID:         GenerateID(),
		Kind:       kind,
		OccurredAt: occurredAt,
		ReceivedAt: time.Now(),
		Payload:    payload,
	}
}

// Attach fills the ownership fields from a connection.
func (s *Signal) Attach(conn *Connection) {
	s.TenantID = conn.TenantID
	s.Provider = conn.Provider
	s.ConnectionID = conn.ID
}
