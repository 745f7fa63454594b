package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/agentjobs/backend/internal/auth"
	"github.com/agentjobs/backend/internal/config"
	"github.com/agentjobs/backend/internal/dashboard"
	"github.com/agentjobs/backend/internal/jobs"
	"github.com/agentjobs/backend/internal/ledger"
	"github.com/agentjobs/backend/internal/liveness"
	"github.com/agentjobs/backend/internal/messages"
	"github.com/agentjobs/backend/internal/middleware"
	"github.com/agentjobs/backend/internal/notify"
	"github.com/agentjobs/backend/internal/registry"
	"github.com/agentjobs/backend/internal/reputation"
	"github.com/agentjobs/backend/internal/router"
	"github.com/agentjobs/backend/internal/sweep"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}

	// Ledger
	ledgerSvc := ledger.NewService(
		ledger.NewAccountRepo(pool),
		ledger.NewHoldRepo(pool),
		ledger.NewEntryRepo(pool),
	)

	// Reputation
	repRepo := reputation.NewRepo(pool)
	repSvc := reputation.NewService(repRepo)

	// Registry and presence
	tracker := liveness.NewTracker(cfg.OnlineTimeout)
	registryRepo := registry.NewRepo(pool)
	jobsRepo := jobs.NewJobRepo(pool)
	registrySvc := registry.NewService(registryRepo, jobsRepo, tracker, logger)
	if seeded, err := registrySvc.SeedPresence(ctx); err != nil {
		slog.Warn("Presence seed failed", "error", err)
	} else if seeded > 0 {
		slog.Info("Presence seeded from last heartbeats", "agents", seeded)
	}

	// Job lifecycle
	jobsSvc := jobs.NewService(
		jobsRepo,
		jobs.NewApplicationRepo(pool),
		registryRepo,
		ledgerSvc,
		repSvc,
		tracker,
		cfg.PlatformFeePercent,
		cfg.AbandonGrace,
		logger,
	)
	jobsSvc.SetNotifier(notify.NewLogNotifier(logger))

	// Periodic sweep: presence, expiry, abandonment
	workers := river.NewWorkers()
	river.AddWorker(workers, sweep.NewWorker(jobsSvc, registrySvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return sweep.SweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	// Auth and HTTP surface
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)
	jobsHandler := jobs.NewHandler(jobsSvc, authSvc, logger)
	registryHandler := registry.NewHandler(registrySvc, jobsSvc, authSvc, repRepo, logger)
	dashHandler := dashboard.NewHandler(authSvc, ledger.NewAccountRepo(pool), ledger.NewEntryRepo(pool), logger)
	msgSvc := messages.NewService(messages.NewRepo(pool), jobsRepo, logger)
	msgHandler := messages.NewHandler(msgSvc, authSvc, registrySvc, logger)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
	}).Handler(middleware.RequestLogger(logger)(router.New(authHandler, jobsHandler, registryHandler, dashHandler, msgHandler)))

	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: handler,
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River stop failed", "error", err)
	}
}
