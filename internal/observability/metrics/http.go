package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "treasury"

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Rebalancing runs by final state.",
	}, []string{"network", "mode", "state"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a rebalancing run, including the simulation delay.",
		Buckets:   []float64{1, 5, 15, 30, 45, 60, 120, 300},
	}, []string{"network", "mode"})

	batchOperations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "batch_operations",
		Help:      "Number of operations in the last assembled batch.",
	}, []string{"network"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_pending_runs",
		Help:      "Run triggers waiting in the queue.",
	}, []string{"driver"})
)

func init() {
	registry.MustRegister(
		httpRequests,
		httpErrors,
		httpLatency,
		runs,
		runDuration,
		batchOperations,
		queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveRun records a finished run.
func ObserveRun(network, mode, state string, duration time.Duration) {
	runs.WithLabelValues(network, mode, state).Inc()
	runDuration.WithLabelValues(network, mode).Observe(duration.Seconds())
}

// ObserveBatch records the size of an assembled batch.
func ObserveBatch(network string, operations int) {
	batchOperations.WithLabelValues(network).Set(float64(operations))
}

// SetQueueDepth reports how many run triggers are pending.
func SetQueueDepth(driver string, depth int) {
	queueDepth.WithLabelValues(driver).Set(float64(depth))
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
