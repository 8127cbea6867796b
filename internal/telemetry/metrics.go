package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsAccepted        = prometheus.NewCounter(prometheus.CounterOpts{Name: "psc_runs_accepted_total", Help: "Status-check runs accepted via the API"})
	RunsCompleted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "psc_runs_completed_total", Help: "Runs that reached COMPLETED"})
	RunsFailed          = prometheus.NewCounter(prometheus.CounterOpts{Name: "psc_runs_failed_total", Help: "Runs that reached FAILED"})
	RunRetries          = prometheus.NewCounter(prometheus.CounterOpts{Name: "psc_run_retries_total", Help: "Run redeliveries scheduled after internal errors"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "psc_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	LookupFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "psc_lookup_failures_total", Help: "Payments whose gateway lookup failed after retries"})
	NotifyFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "psc_notify_failures_total", Help: "Chunks lost to notify-stage failures"})
	StatusCheckFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "psc_status_check_failures_total", Help: "Payments whose status check failed after retries"})
	ChunksProcessed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "psc_chunks_processed_total", Help: "Chunks fully processed across all gateways"})
	RunsInFlight        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "psc_runs_inflight", Help: "Runs currently being executed by workers"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "psc_run_queue_depth", Help: "Runs waiting in the ready queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsAccepted,
			RunsCompleted,
			RunsFailed,
			RunRetries,
			RateLimitRejects,
			LookupFailures,
			NotifyFailures,
			StatusCheckFailures,
			ChunksProcessed,
			RunsInFlight,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
