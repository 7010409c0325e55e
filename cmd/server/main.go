package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pesio-ai/be-plot-transfers/internal/client"
	"github.com/pesio-ai/be-plot-transfers/internal/handler"
	"github.com/pesio-ai/be-plot-transfers/internal/platform/config"
	"github.com/pesio-ai/be-plot-transfers/internal/platform/database"
	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
	"github.com/pesio-ai/be-plot-transfers/internal/platform/telemetry"
	"github.com/pesio-ai/be-plot-transfers/internal/repository/postgres"
	"github.com/pesio-ai/be-plot-transfers/internal/repository/sqlite"
	"github.com/pesio-ai/be-plot-transfers/internal/service"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow/seed"
)

// backend is what both store implementations provide to the service.
type backend interface {
	workflow.Store
	service.CaseFileStore
	seed.Seeder
	Ping(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Msg("Starting Plot Transfers Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise tracing")
	}

	// Initialize store
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	// Seed and load the workflow topology
	guards := workflow.NewGuardCatalogue(workflow.GuardOptions{
		IntakeDocuments:  cfg.Workflow.IntakeDocs,
		RequiredSections: cfg.Workflow.Sections,
	})
	topology := workflow.NewTopology(store, guards, log.WithComponent("workflow"))
	syncer := seed.NewSyncer(cfg.Workflow.SeedFile, store, topology, log)
	if err := syncer.Sync(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed workflow topology")
	}
	if cfg.Workflow.WatchSeed {
		if err := syncer.Watch(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to watch workflow seed file")
		}
		defer syncer.Close()
	}

	// Initialize event publishing
	var opts []workflow.Option
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		opts = append(opts, workflow.WithPublisher(client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log)))
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS publisher initialized")
	}

	// Initialize engine and services
	engine := workflow.NewEngine(store, topology, workflow.NewEvaluator(guards, log.WithComponent("workflow")),
		workflow.Config{
			InitialStage:   cfg.Workflow.InitialStage,
			ExecuteTimeout: cfg.Workflow.ExecuteTimeout,
		},
		log.WithComponent("workflow"), opts...)
	caseService := service.NewCaseService(engine, store, syncer, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(caseService, handler.Options{
		Auth: handler.AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			JWTIssuer: cfg.Auth.JWTIssuer,
		},
		RateLimit:      cfg.Server.RateLimit,
		RateWindow:     cfg.Server.RateWindow,
		RequestTimeout: cfg.Server.RequestTimeout,
		Ready:          store.Ping,
	}, log)
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("AUTH_JWT_SECRET not set; trusting X-User-ID / X-User-Role headers")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracer shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// openStore connects the configured backend and applies its schema.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (backend, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.Store.SQLitePath))
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.Store.SQLitePath).Msg("SQLite store opened")
		return s, func() { _ = s.Close() }, nil

	default:
		db, err := database.New(ctx, database.Config{
			DSN:         cfg.Database.DSN(),
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return nil, nil, err
		}
		s := postgres.NewStore(db, cfg.Workflow.LockTimeout)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.Database).Msg("Database connection established")
		return s, db.Close, nil
	}
}
