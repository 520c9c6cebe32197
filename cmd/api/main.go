// Package main is the entry point for the subsync API server.
//
// It loads configuration, connects to Postgres and applies the embedded
// schema migrations, wires the external providers (Polar billing, Clerk
// identity) or their local stubs depending on APP_ENV, and serves the HTTP
// API until an OS signal (SIGINT, SIGTERM) triggers graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"subsync/internal/api/handlers"
	"subsync/internal/config"
	"subsync/internal/core"
	"subsync/internal/db"
	"subsync/internal/dedup"
	"subsync/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("subsync API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	profiles := db.NewProfileRepo(pool, logger)

	deduper, err := newDeduper(cfg, pool, logger)
	if err != nil {
		return fmt.Errorf("configuring dedup backend: %w", err)
	}

	// External providers: stubs in local mode, real clients otherwise.
	var (
		billingService  external.BillingService
		billingVerifier external.WebhookVerifier
		identityService external.IdentityService
		identityVerify  external.IdentityWebhookVerifier
		authenticator   core.Authenticator
	)
	if cfg.IsLocal() {
		billingService = external.NewStubBillingService(logger)
		billingVerifier = external.NewStubWebhookVerifier(logger)
		identityService = external.NewStubIdentityService(logger)
		identityVerify = external.NewStubIdentityVerifier(logger)
		authenticator = external.NewStubAuthenticator(logger)
	} else {
		billingService = external.NewPolarClient(nil, external.PolarClientConfig{
			AccessToken: cfg.Billing.PolarAccessToken,
			BaseURL:     cfg.Billing.PolarAPIBase,
			Logger:      logger,
		})
		billingVerifier = &external.PolarVerifier{}

		clerkClient := external.NewClerkClient(nil, external.ClerkClientConfig{
			SecretKey: cfg.Identity.ClerkSecretKey,
			Logger:    logger,
		})
		identityService = clerkClient
		authenticator = clerkClient

		identityVerify, err = external.NewClerkVerifier(cfg.Identity.ClerkWebhookSecret)
		if err != nil {
			return fmt.Errorf("creating identity webhook verifier: %w", err)
		}
	}

	srv, err := core.NewServer(logger, authenticator)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.RequestTimeout = cfg.Server.RequestTimeout

	polarWebhook := handlers.NewPolarWebhookHandler(
		billingVerifier,
		profiles,
		deduper,
		cfg.Billing.PolarWebhookSecret,
		logger,
	)
	clerkWebhook := handlers.NewClerkWebhookHandler(identityVerify, profiles, logger)
	billingHandler := handlers.NewBillingHandler(
		billingService,
		identityService,
		profiles,
		srv.Validator,
		cfg.Server.AppURL,
		cfg.Billing.PolarProProductID,
		logger,
	)
	profileHandler := handlers.NewProfileHandler(profiles, billingService, logger)

	srv.PublicRegistrars = []core.RouteRegistrar{
		polarWebhook.RegisterRoutes,
		clerkWebhook.RegisterRoutes,
	}
	srv.AuthedRegistrars = []core.RouteRegistrar{
		billingHandler.RegisterRoutes,
		profileHandler.RegisterRoutes,
	}
	srv.MountRoutes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ":"+cfg.Server.Port)
	})

	// Each dedup backend brings its own maintenance loop: the memory backend
	// sweeps its key set wholesale, the Postgres backend prunes expired rows.
	// Redis expires keys by TTL and needs neither.
	switch d := deduper.(type) {
	case *dedup.Memory:
		g.Go(func() error {
			return d.RunSweeper(gctx, cfg.Dedup.SweepInterval)
		})
	case *db.ProcessedEventRepo:
		g.Go(func() error {
			return d.RunPruner(gctx, cfg.Dedup.SweepInterval, db.DefaultRetentionDays)
		})
	}
	return g.Wait()
}

// newDeduper selects the webhook dedup backend: Redis when a URL is
// configured, in-process memory for local single-replica development, and
// the durable Postgres table otherwise.
func newDeduper(cfg *config.Config, pool db.DBTX, logger *slog.Logger) (dedup.Deduper, error) {
	if cfg.Dedup.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Dedup.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		logger.Info("using redis dedup backend")
		return dedup.NewRedis(redis.NewClient(opts), cfg.Dedup.TTL), nil
	}
	if cfg.IsLocal() {
		logger.Info("using in-memory dedup backend")
		return dedup.NewMemory(), nil
	}
	logger.Info("using postgres dedup backend")
	return db.NewProcessedEventRepo(pool, logger), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
