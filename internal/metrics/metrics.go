package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reproq/reproq/internal/health"
)

var (
	// Claim Engine

	ClaimLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reproq",
		Name:      "claim_latency_seconds",
		Help:      "Time from enqueued_at to a row being claimed.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ClaimedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reproq",
		Name:      "claimed_total",
		Help:      "Total task runs claimed, by queue.",
	}, []string{"queue"})

	// Attempt execution

	AttemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reproq",
		Name:      "attempt_duration_seconds",
		Help:      "Duration of one Executor subprocess invocation.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"outcome"})

	AttemptsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reproq",
		Name:      "attempts_in_flight",
		Help:      "Number of attempts currently executing on this worker.",
	})

	TaskRunsFinalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reproq",
		Name:      "task_runs_finalized_total",
		Help:      "Total task runs finalized, by outcome.",
	}, []string{"outcome"})

	// Reaper

	ReclaimedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reproq",
		Name:      "reclaimed_total",
		Help:      "Total task runs reclaimed from expired leases, by action.",
	}, []string{"action"})

	ReclaimCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reproq",
		Name:      "reclaim_cycle_duration_seconds",
		Help:      "Time taken for one reclaim cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Workflow coordinator

	WorkflowFanInCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reproq",
		Name:      "workflow_fan_in_completed_total",
		Help:      "Total chord fan-ins completed, by result.",
	}, []string{"result"})

	// Periodic scheduler

	PeriodicTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reproq",
		Name:      "periodic_ticks_total",
		Help:      "Total periodic scheduler ticks.",
	})

	PeriodicFiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reproq",
		Name:      "periodic_fired_total",
		Help:      "Total periodic task firings, by name.",
	}, []string{"name"})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reproq",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reproq",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker has shut down.",
	})
)

func Register() {
	prometheus.MustRegister(
		ClaimLatency,
		ClaimedTotal,
		AttemptDuration,
		AttemptsInFlight,
		TaskRunsFinalizedTotal,
		ReclaimedTotal,
		ReclaimCycleDuration,
		WorkflowFanInCompletedTotal,
		PeriodicTicksTotal,
		PeriodicFiredTotal,
		WorkerStartTime,
		WorkerShutdownsTotal,
	)
}

// NewServer mounts /metrics plus liveness/readiness handlers backed by
// checker, matching the health.Checker wiring every reproq process
// registers at startup.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/healthz/ready", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeHealth(w, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
