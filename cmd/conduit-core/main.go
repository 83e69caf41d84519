package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/auth"
	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors/github"
	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors/google"
	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors/jira"
	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors/zoho"
	"github.com/custodia-labs/conduit-core/internal/adapters/driven/postgres"
	redisadapter "github.com/custodia-labs/conduit-core/internal/adapters/driven/redis"
	httpadapter "github.com/custodia-labs/conduit-core/internal/adapters/driving/http"
	"github.com/custodia-labs/conduit-core/internal/config"
	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
	"github.com/custodia-labs/conduit-core/internal/core/services"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Run mode from config (RUN_MODE) or command line arg
	mode := cfg.Mode
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	log.Printf("conduit-core %s starting in %s mode", version, mode)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	// ===== Initialize PostgreSQL =====
	log.Println("Connecting to PostgreSQL...")
	db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize schema (idempotent)
	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Println("PostgreSQL connected and schema initialized")

	// ===== Credential cipher =====
	if len(cfg.EncryptionKey) == 0 {
		log.Fatalf("ENCRYPTION_KEY is required (hex-encoded 32-byte AES key)")
	}
	cipher, err := postgres.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to create credential cipher: %v", err)
	}

	// ===== Initialize Redis (optional) =====
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		log.Println("Connecting to Redis...")
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Redis connected")
	}

	// ===== PostgreSQL Stores =====
	connectionStore := postgres.NewConnectionStore(db, cipher)
	jobStore := postgres.NewJobStore(db)
	schedulerStore := postgres.NewSchedulerStore(db, connectionStore)
	signalStore := postgres.NewSignalStore(db)
	stateStore := postgres.NewOAuthStateStore(db)

	// ===== Distributed Lock (Redis if available, otherwise PostgreSQL advisory locks) =====
	var distributedLock driven.DistributedLock
	var redisPinger httpadapter.Pinger
	if redisClient != nil {
		lock := redisadapter.NewLock(redisClient)
		distributedLock = lock
		redisPinger = lock
		log.Println("Using Redis distributed lock")
	} else {
		distributedLock = postgres.NewAdvisoryLock(db)
		log.Println("Using PostgreSQL advisory lock")
	}

	// ===== Connector registry =====
	registry := buildRegistry(cfg)

	// ===== Driven adapters =====
	authAdapter := auth.NewAdapter(cfg.JWTSecret, cfg.OperatorEmail, cfg.OperatorPasswordHash)
	if cfg.OperatorPasswordHash == "" {
		log.Println("Warning: OPERATOR_PASSWORD_HASH not set, operator login disabled")
	}

	// ===== Services (core business logic) =====
	logger := slog.Default()

	tokenRefresh := services.NewTokenRefresh(connectionStore, registry, distributedLock, services.TokenRefreshConfig{
		Tick:        cfg.TokenRefresh.Tick,
		LeadTime:    cfg.TokenRefresh.LeadTime,
		Concurrency: cfg.TokenRefresh.Concurrency,
		Jitter:      cfg.TokenRefresh.Jitter,
		Logger:      logger,
	})

	executor := services.NewExecutor(jobStore, connectionStore, signalStore, registry, tokenRefresh, services.ExecutorConfig{
		Concurrency:   cfg.Executor.Concurrency,
		ClaimInterval: cfg.Executor.ClaimInterval,
		StaleTimeout:  cfg.Executor.StaleTimeout,
		SweepInterval: cfg.Executor.SweepInterval,
		DrainTimeout:  cfg.Executor.DrainTimeout,
		RetryFor:      cfg.RetryFor,
		Logger:        logger,
	})

	scheduler := services.NewScheduler(schedulerStore, distributedLock, services.SchedulerConfig{
		Tick:         cfg.Scheduler.Tick,
		BatchSize:    cfg.Scheduler.BatchSize,
		LockTTL:      cfg.Scheduler.LockTTL,
		LockRequired: cfg.Scheduler.LockRequired,
		Logger:       logger,
	})

	webhookService := services.NewWebhook(registry, connectionStore, jobStore, signalStore, services.WebhookConfig{
		Secrets:   cfg.Webhook.Secrets,
		Tolerance: cfg.Webhook.Tolerance,
		Logger:    logger,
	})

	oauthService := services.NewOAuth(registry, connectionStore, stateStore, services.OAuthConfig{
		RedirectURI: cfg.BaseURL + "/api/v1/oauth/callback",
		Logger:      logger,
	})

	catalogService := services.NewCatalog(registry, connectionStore, jobStore, signalStore)

	switch mode {
	case "api":
		runAPI(ctx, cfg, authAdapter, oauthService, webhookService, catalogService, db, redisPinger, logger)

	case "worker":
		runWorker(ctx, scheduler, executor, tokenRefresh)

	case "all":
		go runWorker(ctx, scheduler, executor, tokenRefresh)
		runAPI(ctx, cfg, authAdapter, oauthService, webhookService, catalogService, db, redisPinger, logger)

	default:
		log.Fatalf("Unknown mode: %s (use: api, worker, or all)", mode)
	}
}

// buildRegistry constructs every shipped connector with its OAuth app
// registration. Providers without a configured client still register so
// the catalog can list them; their authorize call fails at the provider.
func buildRegistry(cfg *config.Config) *connectors.Registry {
	app := func(p domain.ProviderType) connectors.App {
		client := cfg.OAuthClients[p]
		return connectors.App{ClientID: client.ClientID, ClientSecret: client.ClientSecret}
	}

	return connectors.NewRegistry(
		github.New(app(domain.ProviderTypeGitHub)),
		jira.New(app(domain.ProviderTypeJira)),
		google.NewGmail(app(domain.ProviderTypeGmail)),
		google.NewCalendar(app(domain.ProviderTypeGoogleCalendar)),
		google.NewDrive(app(domain.ProviderTypeGoogleDrive)),
		zoho.NewCliq(app(domain.ProviderTypeZohoCliq)),
		zoho.NewMail(app(domain.ProviderTypeZohoMail)),
	)
}

// runAPI starts the HTTP server and shuts it down when ctx is cancelled.
func runAPI(
	ctx context.Context,
	cfg *config.Config,
	authService *auth.Adapter,
	oauthService *services.OAuth,
	webhookService *services.Webhook,
	catalogService *services.Catalog,
	db httpadapter.Pinger,
	redisPinger httpadapter.Pinger,
	logger *slog.Logger,
) {
	serverCfg := httpadapter.Config{
		Host:    "0.0.0.0",
		Port:    cfg.Port,
		Version: version,
	}

	server := httpadapter.NewServer(serverCfg, authService, oauthService, webhookService, catalogService, db, redisPinger, logger)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("API server starting on :%d", cfg.Port)
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		log.Println("API server stopped")
	}
}

// runWorker starts the scheduler, executor, and token refresh loops and
// stops them when ctx is cancelled.
func runWorker(ctx context.Context, scheduler *services.Scheduler, executor *services.Executor, tokenRefresh *services.TokenRefresh) {
	log.Println("Starting worker mode...")

	scheduler.Start()
	executor.Start()
	tokenRefresh.Start()

	log.Println("Worker started: scheduling, executing, and refreshing")

	<-ctx.Done()

	log.Println("Stopping worker...")
	scheduler.Stop()
	tokenRefresh.Stop()
	executor.Stop()
	log.Println("Worker stopped")
}
