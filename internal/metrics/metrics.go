// Package metrics bundles the Prometheus instruments for the acquisition and
// authorization pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gate service.
type Metrics struct {
	// Adapter metrics
	AdapterCalls   *prometheus.CounterVec
	AdapterRetries *prometheus.CounterVec
	FetchLatency   *prometheus.HistogramVec

	// Rate limiter metrics
	RateLimitRejections *prometheus.CounterVec

	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Gatekeeper metrics
	Decisions *prometheus.CounterVec

	// Breaker metrics
	BreakerHalted prometheus.Gauge
}

// New creates and registers all metrics against the given registerer. Tests
// pass a fresh prometheus.NewRegistry() so parallel packages never collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AdapterCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_adapter_calls_total",
				Help: "Adapter invocations by adapter, capability and result",
			},
			[]string{"adapter", "capability", "result"}, // result: ok, transient, permanent, stale
		),

		AdapterRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_adapter_retries_total",
				Help: "Retry attempts after transient adapter failures",
			},
			[]string{"adapter"},
		),

		FetchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gate_fetch_latency_seconds",
				Help:    "End-to-end latency of one adapter invocation",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"adapter", "capability"},
		),

		RateLimitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_rate_limit_rejections_total",
				Help: "Calls rejected by the per-source sliding window",
			},
			[]string{"source"},
		),

		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_cycles_total",
				Help: "Decision cycles by terminal status",
			},
			[]string{"status"}, // status: completed, fatal_acquisition, halted
		),

		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gate_cycle_duration_seconds",
				Help:    "Wall time of one full decision cycle",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
		),

		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_decisions_total",
				Help: "Gatekeeper outcomes by execution result",
			},
			[]string{"result"},
		),

		BreakerHalted: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gate_breaker_halted",
				Help: "1 while the circuit breaker is tripped, 0 otherwise",
			},
		),
	}
}

// NewUnregistered returns a metrics bundle backed by a throwaway registry,
// for callers that need the struct but not the scrape output.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
