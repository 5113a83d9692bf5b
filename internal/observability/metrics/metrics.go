// Package metrics provides Prometheus instrumentation for solcverify.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string
	register    sync.Once

	serviceInfo *prometheus.GaugeVec

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Compiler metrics
	compilerResolveTotal     *prometheus.CounterVec
	compilerInvocationTotal  *prometheus.CounterVec
	compilerInvocationLength *prometheus.HistogramVec

	// Driver metrics
	driverCeiling        prometheus.Gauge
	driverActive         prometheus.Gauge
	driverBatchTotal     *prometheus.CounterVec
	verificationTotal    *prometheus.CounterVec
	verificationDuration prometheus.Histogram
)

// Init initializes the metrics system. Collectors are registered once per
// process; later calls only toggle recording.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	register.Do(registerCollectors)
	serviceInfo.WithLabelValues(serviceName).Set(1)
}

func registerCollectors() {
	serviceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solcverify_service_info",
			Help: "Always 1, labelled with the process that exports the metrics",
		},
		[]string{"service"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	compilerResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compiler_resolve_total",
			Help: "Total number of compiler resolutions by outcome",
		},
		[]string{"language", "outcome"},
	)

	compilerInvocationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compiler_invocation_total",
			Help: "Total number of compiler invocations",
		},
		[]string{"language", "target", "status"},
	)

	compilerInvocationLength = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compiler_invocation_duration_seconds",
			Help:    "Compiler invocation latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"language", "target"},
	)

	driverCeiling = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driver_concurrency_ceiling",
		Help: "Current ceiling on in-flight verification tasks",
	})

	driverActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driver_active_tasks",
		Help: "Verification tasks currently in flight",
	})

	driverBatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driver_batch_fetch_total",
			Help: "Total number of candidate batch fetches",
		},
		[]string{"status"},
	)

	verificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_request_total",
			Help: "Total number of verification attempts by outcome",
		},
		[]string{"result"},
	)

	verificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verification_duration_seconds",
		Help:    "Verification attempt latency in seconds",
		Buckets: []float64{0.25, 1, 5, 15, 30, 60, 120, 300},
	})

	// Go runtime metrics (goroutines, memory, GC) are collected by
	// client_golang's default registry.
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}
