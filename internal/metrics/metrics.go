package metrics

import (
	"net/http"

	"github.com/KevinKickass/BragerSync/internal/pipeline"
	"github.com/KevinKickass/BragerSync/internal/session"
	"github.com/KevinKickass/BragerSync/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bragersync"

// Metrics owns a dedicated registry so tests and multiple instances do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	writes        *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	deltas        *prometheus.CounterVec
	snapshotSize  prometheus.Gauge
	sessionState  *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Parameter write attempts by route and outcome.",
		}, []string{"route", "outcome"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Time from write request to backend answer.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_total",
			Help:      "Delta updates received by outcome.",
		}, []string{"outcome"}),
		snapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_values",
			Help:      "Symbols with a value observed since the last prime.",
		}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.writes,
		m.writeDuration,
		m.deltas,
		m.snapshotSize,
		m.sessionState,
		m.transitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.setState(session.StateDisconnected)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordWrite implements pipeline.Recorder.
func (m *Metrics) RecordWrite(e pipeline.Entry) {
	route := e.Route
	if route == "" {
		route = "none"
	}
	m.writes.WithLabelValues(route, string(e.Outcome)).Inc()
	m.writeDuration.WithLabelValues(string(e.Outcome)).Observe(e.Duration.Seconds())
}

// OnStateChange implements session.Listener.
func (m *Metrics) OnStateChange(from, to session.State, cause error) {
	m.transitions.WithLabelValues(to.String()).Inc()
	m.setState(to)
}

// OnUpdate implements session.Listener.
func (m *Metrics) OnUpdate(state.Update) {}

// ObserveDelta implements session.DeltaObserver.
func (m *Metrics) ObserveDelta(u state.Update, outcome state.Outcome) {
	m.deltas.WithLabelValues(outcome.String()).Inc()
}

// SetKnownValues records how many symbols currently have a value.
func (m *Metrics) SetKnownValues(n int) {
	m.snapshotSize.Set(float64(n))
}

func (m *Metrics) setState(current session.State) {
	for _, s := range []session.State{session.StateDisconnected, session.StatePriming, session.StateLive, session.StateStopped} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.sessionState.WithLabelValues(s.String()).Set(v)
	}
}
