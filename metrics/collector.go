// Package metrics exports registry measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/modreg"
)

const namespace = "modreg"

var allStates = []modreg.State{
	modreg.StateRegistered,
	modreg.StateConfigured,
	modreg.StateInitialized,
	modreg.StateActive,
	modreg.StateDeactivated,
	modreg.StateFailed,
}

// Collector implements modreg.MetricsRecorder. Its instruments live on a
// private prometheus.Registry so several registries can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	moduleState   *prometheus.GaugeVec
	moduleHealth  *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	failures      *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchOutcomes *prometheus.CounterVec
}

var _ modreg.MetricsRecorder = (*Collector)(nil)

// Option configures a Collector.
type Option func(*Collector)

// WithProcessCollectors adds the Go runtime and process collectors.
func WithProcessCollectors() Option {
	return func(c *Collector) {
		c.registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}
}

// NewCollector creates and registers the registry instruments.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		moduleState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "state",
				Help:      "1 for the current lifecycle state of each module, 0 otherwise.",
			},
			[]string{"module", "state"},
		),
		moduleHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "health_status",
				Help:      "Last combined health status per module (0 healthy, 1 degraded, 2 unhealthy).",
			},
			[]string{"module"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "transitions_total",
				Help:      "Lifecycle transitions by source and target state.",
			},
			[]string{"from", "to"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "failures_total",
				Help:      "Transitions to the failed state per module.",
			},
			[]string{"module"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "duration_seconds",
				Help:      "Duration of InitializeAll and ActivateAll calls.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"operation"},
		),
		batchOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "outcomes_total",
				Help:      "Per-module batch outcomes.",
			},
			[]string{"operation", "outcome"},
		),
	}
	c.registry.MustRegister(
		c.moduleState,
		c.moduleHealth,
		c.transitions,
		c.failures,
		c.batchDuration,
		c.batchOutcomes,
	)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ObserveTransition records a state change. A call with from == to marks
// the initial state at registration and is not counted as a transition.
func (c *Collector) ObserveTransition(module string, from, to modreg.State) {
	for _, s := range allStates {
		v := 0.0
		if s == to {
			v = 1
		}
		c.moduleState.WithLabelValues(module, s.String()).Set(v)
	}
	if from == to {
		return
	}
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	if to == modreg.StateFailed {
		c.failures.WithLabelValues(module).Inc()
	}
}

func (c *Collector) ObserveBatch(operation string, duration time.Duration, outcomes map[modreg.Outcome]int) {
	c.batchDuration.WithLabelValues(operation).Observe(duration.Seconds())
	for outcome, n := range outcomes {
		c.batchOutcomes.WithLabelValues(operation, string(outcome)).Add(float64(n))
	}
}

func (c *Collector) ObserveHealth(module string, status modreg.HealthStatus) {
	c.moduleHealth.WithLabelValues(module).Set(float64(status))
}

// ForgetModule drops every per-module series.
func (c *Collector) ForgetModule(module string) {
	labels := prometheus.Labels{"module": module}
	c.moduleState.DeletePartialMatch(labels)
	c.moduleHealth.DeletePartialMatch(labels)
	c.failures.DeletePartialMatch(labels)
}

// Gatherer exposes the collector's registry.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
