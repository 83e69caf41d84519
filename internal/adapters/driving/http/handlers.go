package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driving"
)

// TenantHeader names the tenant on the operator webhook path, which has no
// tenant path segment.
const TenantHeader = "X-Conduit-Tenant"

// maxWebhookBody caps inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Auth endpoints

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "email and password are required")
		case errors.Is(err, domain.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			writeError(w, http.StatusInternalServerError, "authentication failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Webhook endpoints

// handleWebhook is the public, signature-verified ingest path. A valid
// operator bearer token bypasses signature verification here too, so pushes
// can be replayed against the registered provider URL. Anything else in the
// Authorization header falls through to signature verification; providers
// may send their own auth headers.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	operator := false
	if token := extractBearerToken(r); token != "" {
		if _, err := s.authService.ValidateToken(r.Context(), token); err == nil {
			operator = true
		}
	}
	s.ingestWebhook(w, r, r.PathValue("tenant"), operator)
}

// handleOperatorWebhook is the operator-authenticated ingest path, which
// bypasses signature verification. The tenant comes from a header since the
// path carries none.
func (s *Server) handleOperatorWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "missing "+TenantHeader+" header")
		return
	}
	s.ingestWebhook(w, r, tenantID, true)
}

func (s *Server) ingestWebhook(w http.ResponseWriter, r *http.Request, tenantID string, operator bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxWebhookBody {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	result, err := s.webhookService.Ingest(r.Context(), driving.WebhookRequest{
		Provider: r.PathValue("provider"),
		TenantID: tenantID,
		Headers:  headers,
		Body:     body,
		Operator: operator,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrConnectorNotFound):
			writeError(w, http.StatusNotFound, "unknown provider")
		case errors.Is(err, domain.ErrConnectionNotFound):
			writeError(w, http.StatusNotFound, "no connection for tenant")
		case errors.Is(err, domain.ErrWebhookSecretMissing),
			errors.Is(err, domain.ErrSignatureInvalid),
			errors.Is(err, domain.ErrStaleTimestamp):
			writeError(w, http.StatusUnauthorized, "signature verification failed")
		default:
			writeError(w, http.StatusInternalServerError, "webhook ingest failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        "accepted",
		"job_id":        result.JobID,
		"connection_id": result.Connection,
		"signal_count":  result.SignalCount,
	})
}

// OAuth endpoints

func (s *Server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	var req driving.AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Provider = r.PathValue("provider")

	resp, err := s.oauthService.Authorize(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "tenant_id is required")
		case errors.Is(err, domain.ErrConnectorNotFound):
			writeError(w, http.StatusNotFound, "unknown provider")
		default:
			writeError(w, http.StatusInternalServerError, "authorization failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.oauthService.Callback(r.Context(), driving.CallbackRequest{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrStateInvalid):
			writeError(w, http.StatusBadRequest, "state invalid or expired")
		case errors.Is(err, domain.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "provider denied authorization")
		default:
			writeError(w, http.StatusInternalServerError, "token exchange failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Catalog endpoints

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.catalogService.ListProviders(r.Context()),
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	conns, err := s.catalogService.ListConnections(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "tenant_id is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobs, err := s.catalogService.ListJobs(r.Context(), driven.JobFilter{
		TenantID:     q.Get("tenant_id"),
		ConnectionID: q.Get("connection_id"),
		Status:       domain.JobStatus(q.Get("status")),
		Type:         domain.JobType(q.Get("type")),
		Limit:        queryInt(q.Get("limit")),
		Offset:       queryInt(q.Get("offset")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	signals, err := s.catalogService.ListSignals(r.Context(), driven.SignalFilter{
		TenantID:     q.Get("tenant_id"),
		ConnectionID: q.Get("connection_id"),
		Kind:         domain.SignalKind(q.Get("kind")),
		Limit:        queryInt(q.Get("limit")),
		Offset:       queryInt(q.Get("offset")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals})
}

type triggerSyncRequest struct {
	Type string `json:"type"`
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	jobType := domain.JobTypeIncremental
	if req.Type != "" {
		jobType = domain.JobType(req.Type)
	}

	job, err := s.catalogService.TriggerSync(r.Context(), r.PathValue("id"), jobType)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "type must be full or incremental")
		case errors.Is(err, domain.ErrConnectionNotFound), errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "connection not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to trigger sync")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

// Helper functions

func queryInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
