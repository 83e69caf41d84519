package driving

import "context"

// WebhookRequest is an inbound provider push, raw and unparsed.
// Body must be the exact bytes received on the wire - signature verification
// never runs over a re-serialized form.
type WebhookRequest struct {
	Provider string
	TenantID string // empty on the operator-authenticated path
	Headers  map[string]string
	Body     []byte

	// Operator marks a request authenticated by an operator bearer token,
	// which bypasses signature verification.
	Operator bool
}

// WebhookResult reports an accepted push.
type WebhookResult struct {
	JobID       string `json:"job_id"`
	Connection  string `json:"connection_id"`
	SignalCount int    `json:"signal_count"`
}

// WebhookService authenticates and ingests provider pushes.
type WebhookService interface {
	// Ingest verifies the request, hands it to the connector, persists any
	// returned signals, and unconditionally enqueues a webhook job for the
	// resolved connection. Fast and idempotent under provider retry.
	Ingest(ctx context.Context, req WebhookRequest) (*WebhookResult, error)
}
