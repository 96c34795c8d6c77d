package workerloop

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the C5 instrumentation named in SPEC_FULL.md: scan ticks,
// in-flight servers, and stage-check durations.
type metrics struct {
	ticks         prometheus.Counter
	inFlight      prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
}

// newMetrics registers the worker loop's collectors against reg. Passing a
// fresh *prometheus.Registry per Loop (rather than the global default)
// avoids duplicate-registration panics across tests and across multiple
// Loop instances in one process.
func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_workerloop_ticks_total",
			Help: "Number of worker loop scan ticks executed.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_workerloop_inflight_servers",
			Help: "Number of servers currently undergoing a stage-check task.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "fleet_workerloop_stage_check_duration_seconds",
			Help: "Duration of check_validated/check_provisioned stage-check tasks.",
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_workerloop_stage_check_errors_total",
			Help: "Stage-check task outcomes by stage and result kind.",
		}, []string{"stage", "kind"}),
	}

	reg.MustRegister(m.ticks, m.inFlight, m.stageDuration, m.stageErrors)

	return m
}
