package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TBlauwe/Dynamo-sub000/pkg/scheduler"
)

// Metrics holds all Prometheus metrics of a simulation. It implements the
// recorder interfaces of the command queue, the scheduler and the tick driver.
type Metrics struct {
	registry *prometheus.Registry

	// Flow metrics
	FlowLaunchesTotal   *prometheus.CounterVec
	FlowRunsTotal       *prometheus.CounterVec
	FlowRunDuration     *prometheus.HistogramVec
	LivenessFaultsTotal *prometheus.CounterVec

	// Command queue metrics
	CommandsPending       prometheus.Gauge
	CommandsAppliedTotal  prometheus.Counter
	CommandsFailedTotal   prometheus.Counter
	CommandsSkippedTotal  prometheus.Counter
	CommandDrainDuration  prometheus.Histogram

	// Tick metrics
	TicksTotal    prometheus.Counter
	TickDuration  prometheus.Histogram
	FlowsInFlight prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		FlowLaunchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dynamo_flow_launches_total",
				Help: "Total number of flow runs launched",
			},
			[]string{"flow"},
		),
		FlowRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dynamo_flow_runs_total",
				Help: "Total number of finished flow runs by outcome",
			},
			[]string{"flow", "status"},
		),
		FlowRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dynamo_flow_run_duration_seconds",
				Help:    "Wall-clock duration of flow runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"flow"},
		),
		LivenessFaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dynamo_flow_liveness_faults_total",
				Help: "Total number of runs reported stalled",
			},
			[]string{"flow"},
		),

		CommandsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dynamo_commands_pending",
				Help: "Number of commands waiting for the next drain",
			},
		),
		CommandsAppliedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_commands_applied_total",
				Help: "Total number of commands applied",
			},
		),
		CommandsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_commands_failed_total",
				Help: "Total number of commands whose apply failed",
			},
		),
		CommandsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_commands_skipped_total",
				Help: "Total number of commands skipped because their target was destroyed",
			},
		),
		CommandDrainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dynamo_command_drain_duration_seconds",
				Help:    "Duration of command queue drains in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),

		TicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dynamo_ticks_total",
				Help: "Total number of simulation steps",
			},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dynamo_tick_duration_seconds",
				Help:    "Wall-clock duration of simulation steps in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		FlowsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dynamo_flows_in_flight",
				Help: "Number of flow runs launched and not yet reaped",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.FlowLaunchesTotal)
	m.registry.MustRegister(m.FlowRunsTotal)
	m.registry.MustRegister(m.FlowRunDuration)
	m.registry.MustRegister(m.LivenessFaultsTotal)

	m.registry.MustRegister(m.CommandsPending)
	m.registry.MustRegister(m.CommandsAppliedTotal)
	m.registry.MustRegister(m.CommandsFailedTotal)
	m.registry.MustRegister(m.CommandsSkippedTotal)
	m.registry.MustRegister(m.CommandDrainDuration)

	m.registry.MustRegister(m.TicksTotal)
	m.registry.MustRegister(m.TickDuration)
	m.registry.MustRegister(m.FlowsInFlight)
}

// FlowLaunched records a launch.
func (m *Metrics) FlowLaunched(flow string) {
	m.FlowLaunchesTotal.WithLabelValues(flow).Inc()
	m.FlowsInFlight.Inc()
}

// FlowFinished records a reaped run.
func (m *Metrics) FlowFinished(flow string, status scheduler.RunStatus, duration time.Duration) {
	m.FlowRunsTotal.WithLabelValues(flow, string(status)).Inc()
	m.FlowRunDuration.WithLabelValues(flow).Observe(duration.Seconds())
	m.FlowsInFlight.Dec()
}

// LivenessFault records a stalled run.
func (m *Metrics) LivenessFault(flow string) {
	m.LivenessFaultsTotal.WithLabelValues(flow).Inc()
}

// CommandEnqueued records the queue size after a push.
func (m *Metrics) CommandEnqueued(pending int) {
	m.CommandsPending.Set(float64(pending))
}

// CommandsDrained records the outcome of a drain.
func (m *Metrics) CommandsDrained(applied, failed, skipped int, duration time.Duration) {
	m.CommandsPending.Set(0)
	m.CommandsAppliedTotal.Add(float64(applied))
	m.CommandsFailedTotal.Add(float64(failed))
	m.CommandsSkippedTotal.Add(float64(skipped))
	m.CommandDrainDuration.Observe(duration.Seconds())
}

// TickCompleted records a simulation step.
func (m *Metrics) TickCompleted(_, _ int, duration time.Duration) {
	m.TicksTotal.Inc()
	m.TickDuration.Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
