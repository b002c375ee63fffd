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
	"github.com/reproq/reproq/internal/health"
	"github.com/reproq/reproq/internal/infrastructure/postgres"
	ctxlog "github.com/reproq/reproq/internal/log"
	"github.com/reproq/reproq/internal/metrics"
	"github.com/reproq/reproq/internal/periodic"
	"github.com/reproq/reproq/internal/producer"
	"github.com/reproq/reproq/internal/repository"
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

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	taskRepo := postgres.NewTaskRunRepository(pool)
	periodicRepo := postgres.NewPeriodicTaskRepository(pool)

	router := producer.NewRouter(cfg.QueueRoutes)
	repos := map[string]repository.TaskRunRepository{producer.DefaultQueueAlias: taskRepo}
	prod := producer.New(repos, cfg.QueueAllowlist(), router, logger)

	scheduler := periodic.New(periodicRepo, prod, cfg.PeriodicTickInterval(), cfg.PeriodicBatchSize, logger)
	go scheduler.Start(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("periodic scheduler shut down")
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
