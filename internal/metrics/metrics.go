// Package metrics exposes Prometheus collectors for the probe service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	probeRunsTotal             *prometheus.CounterVec
	probeStageErrorsTotal      *prometheus.CounterVec
	probeDurationSeconds       prometheus.Histogram
	ingestItemsTotal           *prometheus.CounterVec
	ingestQueueDepth           prometheus.Gauge
	realtimeConnections        prometheus.Gauge
	realtimeRejectedTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		probeRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_probe_runs_total",
				Help: "Total probe runs, labeled by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)
		probeStageErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_probe_stage_errors_total",
				Help: "Recovered per-stage probe errors, labeled by stage.",
			},
			[]string{"stage"},
		)
		probeDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scout_probe_duration_seconds",
				Help:    "Wall time of single-source probe runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)
		ingestItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_ingest_items_total",
				Help: "Queue items processed, labeled by result.",
			},
			[]string{"result"},
		)
		ingestQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scout_ingest_queue_depth",
				Help: "Current number of queued ingestion items.",
			},
		)
		realtimeConnections = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scout_realtime_connections",
				Help: "Currently accepted realtime connections.",
			},
		)
		realtimeRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_realtime_rejected_total",
				Help: "Connection rejections, labeled by reason.",
			},
			[]string{"reason"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProbeRun records one finished probe run.
func ObserveProbeRun(mode string, success bool, dur time.Duration) {
	if probeRunsTotal == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "passed"
	}
	probeRunsTotal.WithLabelValues(mode, outcome).Inc()
	probeDurationSeconds.Observe(dur.Seconds())
}

// ObserveProbeStageError records a recovered per-stage error.
func ObserveProbeStageError(stage string) {
	if probeStageErrorsTotal == nil {
		return
	}
	probeStageErrorsTotal.WithLabelValues(stage).Inc()
}

// ObserveIngest records a processed queue item.
func ObserveIngest(result string) {
	if ingestItemsTotal == nil {
		return
	}
	ingestItemsTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth updates the queue depth gauge.
func SetQueueDepth(depth int) {
	if ingestQueueDepth == nil {
		return
	}
	ingestQueueDepth.Set(float64(depth))
}

// IncConnections / DecConnections track live realtime connections.
func IncConnections() {
	if realtimeConnections != nil {
		realtimeConnections.Inc()
	}
}

// DecConnections decrements the realtime connection gauge.
func DecConnections() {
	if realtimeConnections != nil {
		realtimeConnections.Dec()
	}
}

// ObserveRejection records a refused realtime connection.
func ObserveRejection(reason string) {
	if realtimeRejectedTotal == nil {
		return
	}
	realtimeRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
