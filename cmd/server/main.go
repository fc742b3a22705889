// Command server starts the Archibald operation scheduler: the HTTP API,
// the queue worker pool and the periodic sync scheduler run in one process
// so the agent lock can serialize operations per agent in memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/broadcast"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/browser"
	httpserver "github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/httpserver"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/observability"
	asynqadp "github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/queue/asynq"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/repo/postgres"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/agentlock"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/app"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/config"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/operations"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/processor"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, queue, lock and browser instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// ctx stops the background loops (session keep-alive, cleanup) when
	// main returns.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Infra: DB pool
	pgPool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pgPool.Close()

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, cfg.DBURL); err != nil {
			slog.Error("db migrate failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Repositories
	botResults := postgres.NewBotResultRepo(pgPool)
	syncEvents := postgres.NewSyncEventRepo(pgPool)
	entities := postgres.NewEntityRepo(pgPool)

	// Start cleanup service for data retention
	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pgPool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	// Queue client (asynq over Redis)
	queue, err := asynqadp.New(cfg.RedisURL)
	if err != nil {
		slog.Error("queue connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			slog.Error("failed to close queue client", slog.Any("error", err))
		}
	}()

	// Lifecycle event hub feeding the SSE streams.
	hub := broadcast.NewHub(cfg.EventBufferSize)
	defer hub.Close()

	// Bot-runner client and the per-agent browser session pool.
	runner := browser.NewClient(browser.ClientConfig{
		BaseURL:            cfg.BotRunnerURL,
		RequestTimeout:     cfg.BotRunnerTimeout,
		RetryMaxElapsed:    cfg.BotRunnerRetryBudget,
		BreakerMaxFailures: cfg.BotRunnerBreakerFailures,
		BreakerCooldown:    cfg.BotRunnerBreakerCooldown,
	})
	sessions := browser.NewPool(runner, browser.PoolConfig{
		MaxConcurrent:  cfg.BrowserMaxSessions,
		IdleTTL:        cfg.BrowserIdleTTL,
		KeepAliveEvery: cfg.BrowserKeepAliveEvery,
	})
	go sessions.Maintain(ctx)
	defer sessions.Close()

	lock := agentlock.New()

	registry, err := operations.BuildRegistry(operations.Deps{
		Runner:   runner,
		Entities: entities,
		Sessions: sessions,
		PDFDir:   cfg.PDFDir,
	})
	if err != nil {
		slog.Error("handler registry incomplete", slog.Any("error", err))
		os.Exit(1)
	}

	proc, err := processor.New(processor.Deps{
		Lock:             lock,
		Queue:            queue,
		Pool:             sessions,
		Broadcast:        hub,
		BotResults:       botResults,
		SyncEvents:       syncEvents,
		Handlers:         registry,
		PollInterval:     cfg.LockPollInterval,
		PreemptionWait:   cfg.PreemptionWait,
		RequeueBaseDelay: cfg.RequeueBaseDelay,
		RequeueMaxDelay:  cfg.RequeueMaxDelay,
	})
	if err != nil {
		slog.Error("processor init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Queue worker pool, in-process with the HTTP API.
	qsrv, err := asynqadp.NewServer(cfg.RedisURL, proc, cfg.WorkerConcurrency)
	if err != nil {
		slog.Error("queue server init failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := qsrv.Start(); err != nil {
		slog.Error("queue server start failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer qsrv.Shutdown()

	// Periodic sync scheduler, when a schedule file is configured.
	if cfg.SyncSchedulePath != "" {
		schedule, err := asynqadp.LoadSchedule(cfg.SyncSchedulePath)
		if err != nil {
			slog.Error("sync schedule load failed", slog.Any("error", err))
			os.Exit(1)
		}
		sched, err := asynqadp.NewScheduler(cfg.RedisURL, schedule)
		if err != nil {
			slog.Error("scheduler init failed", slog.Any("error", err))
			os.Exit(1)
		}
		if err := sched.Start(); err != nil {
			slog.Error("scheduler start failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer sched.Shutdown()
		slog.Info("sync scheduler started", slog.Int("entries", len(schedule.Syncs)), slog.String("path", cfg.SyncSchedulePath))
	}

	// Usecases
	enqueueSvc := usecase.NewEnqueueService(queue, cfg.MaxEnqueueKB*1024)
	jobsSvc := usecase.NewJobsService(queue, lock, syncEvents)

	// Readiness checks
	dbCheck, queueCheck, runnerCheck := app.BuildReadinessChecks(pgPool, queue, runner)

	// HTTP server
	srv := httpserver.NewServer(cfg, enqueueSvc, jobsSvc, hub, dbCheck, queueCheck, runnerCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler,
		ReadTimeout: cfg.HTTPReadTimeout,
		// SSE streams stay open indefinitely, so the global write deadline
		// is disabled; API routes get theirs from the timeout middleware.
		WriteTimeout:      0,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancelShutdown()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
