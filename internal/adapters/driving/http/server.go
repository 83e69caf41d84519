package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	authService    driving.AuthService
	oauthService   driving.OAuthService
	webhookService driving.WebhookService
	catalogService driving.CatalogService

	// Infrastructure health checks
	db    Pinger
	redis Pinger // optional
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	authService driving.AuthService,
	oauthService driving.OAuthService,
	webhookService driving.WebhookService,
	catalogService driving.CatalogService,
	db Pinger,
	redis Pinger, // can be nil
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:         http.NewServeMux(),
		version:        cfg.Version,
		logger:         logger.With("component", "http"),
		authService:    authService,
		oauthService:   oauthService,
		webhookService: webhookService,
		catalogService: catalogService,
		db:             db,
		redis:          redis,
	}

	logging := NewLoggingMiddleware(s.logger)
	recovery := NewRecoveryMiddleware(s.logger)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      recovery.Handler(logging.Handler(s.router)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.authService)

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Operator login (public)
	s.router.HandleFunc("POST /api/v1/auth/login", s.handleLogin)

	// Webhook ingest. The tenant-scoped path is public and protected by
	// provider signature verification; the short path is operator-only and
	// bypasses verification (manual replay, testing).
	s.router.HandleFunc("POST /webhooks/{provider}/{tenant}", s.handleWebhook)
	s.router.Handle("POST /webhooks/{provider}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleOperatorWebhook)))

	// OAuth flow. Authorization starts under the operator token; the
	// callback is public - it receives redirects from providers.
	s.router.Handle("POST /api/v1/oauth/{provider}/authorize",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleOAuthAuthorize)))
	s.router.HandleFunc("GET /api/v1/oauth/callback", s.handleOAuthCallback)

	// Catalog endpoints (operator-only)
	s.router.Handle("GET /api/v1/providers",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListProviders)))
	s.router.Handle("GET /api/v1/connections",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListConnections)))
	s.router.Handle("GET /api/v1/jobs",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListJobs)))
	s.router.Handle("GET /api/v1/signals",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListSignals)))
	s.router.Handle("POST /api/v1/connections/{id}/sync",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleTriggerSync)))
}

// Start starts the HTTP server. Blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
