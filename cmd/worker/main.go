package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reproq/reproq/config"
	"github.com/reproq/reproq/internal/claim"
	"github.com/reproq/reproq/internal/executor"
	"github.com/reproq/reproq/internal/finalizer"
	"github.com/reproq/reproq/internal/health"
	"github.com/reproq/reproq/internal/infrastructure/postgres"
	"github.com/reproq/reproq/internal/lease"
	ctxlog "github.com/reproq/reproq/internal/log"
	"github.com/reproq/reproq/internal/metrics"
	"github.com/reproq/reproq/internal/worker"
	"github.com/reproq/reproq/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	taskRepo := postgres.NewTaskRunRepository(pool)
	workerRepo := postgres.NewWorkerRepository(pool)
	workflowRepo := postgres.NewWorkflowRunRepository(pool)

	workerID := worker.ID()

	claimEngine := claim.New(taskRepo, claim.Policy{
		MinBackoff:   cfg.PollMinBackoff(),
		MaxBackoff:   cfg.PollMaxBackoff(),
		AgingFactor:  cfg.AgingFactor(),
		LeaseSeconds: cfg.LeaseDuration(),
	}, logger)

	leaseMgr := lease.New(taskRepo, workerID, cfg.HeartbeatInterval(), cfg.LeaseDuration(), logger)
	exec := executor.New(cfg.ExecutorCommand, cfg.MaxPayloadBytes, logger)
	coordinator := workflow.NewCoordinator(taskRepo, workflowRepo, logger)
	final := finalizer.New(taskRepo, coordinator, workerID, cfg.RetryBaseBackoff(), cfg.RetryMaxBackoff(), logger)

	w := worker.New(workerID, cfg.QueueAllowlist(), taskRepo, workerRepo, claimEngine, leaseMgr, exec, final, cfg.WorkerConcurrency, logger)

	metrics.WorkerStartTime.SetToCurrentTime()

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	go func() {
		if err := w.Start(ctx, cfg.ShutdownTimeout()); err != nil {
			logger.Error("worker exited with error", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	metrics.WorkerShutdownsTotal.Inc()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("worker process shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
