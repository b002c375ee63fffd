package config_test

import (
	"testing"
	"time"

	"github.com/reproq/reproq/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/reproq")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Env != "local" {
		t.Errorf("Env = %q, want local", cfg.Env)
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("WorkerConcurrency = %d, want 10", cfg.WorkerConcurrency)
	}
	if got, want := cfg.LeaseDuration(), 300*time.Second; got != want {
		t.Errorf("LeaseDuration() = %v, want %v", got, want)
	}
	if len(cfg.Queues) != 1 || cfg.Queues[0] != "default" {
		t.Errorf("Queues = %v, want [default]", cfg.Queues)
	}
}

func TestLoad_MissingDatabaseURL_Errors(t *testing.T) {
	if _, err := config.Load(); err == nil {
		t.Fatal("expected an error when DATABASE_URL is unset")
	}
}

func TestLoad_RejectsUnknownEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV", "nonsense")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected validation error for an env outside local/staging/production")
	}
}

func TestLoad_ParsesQueueRoutes(t *testing.T) {
	setRequired(t)
	t.Setenv("QUEUE_ROUTES", "reports.*=analytics,billing=billing-db")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.QueueRoutes["reports.*"] != "analytics" {
		t.Errorf("QueueRoutes[reports.*] = %q, want analytics", cfg.QueueRoutes["reports.*"])
	}
	if cfg.QueueRoutes["billing"] != "billing-db" {
		t.Errorf("QueueRoutes[billing] = %q, want billing-db", cfg.QueueRoutes["billing"])
	}
}

func TestLoad_RejectsOutOfRangeConcurrency(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKER_CONCURRENCY", "0")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected validation error for WORKER_CONCURRENCY below its min")
	}
}

func TestSlogLevel_MapsKnownLevels(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Errorf("SlogLevel() = %v, want DEBUG", cfg.SlogLevel())
	}
}

func TestQueueAllowlist_TrimsWhitespace(t *testing.T) {
	setRequired(t)
	t.Setenv("QUEUES", " default , reports ")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := cfg.QueueAllowlist()
	if len(got) != 2 || got[0] != "default" || got[1] != "reports" {
		t.Errorf("QueueAllowlist() = %v, want [default reports]", got)
	}
}
