package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "httpit"
	subsystem = "server"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "starts_total",
			Help:      "Number of successful webfsd starts.",
		}, []string{"name"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stops_total",
			Help:      "Number of requested stops.",
		}, []string{"name"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restarts_total",
			Help:      "Number of successful restarts.",
		}, []string{"name"},
	)
	startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "start_failures_total",
			Help:      "Number of failed starts by reason.",
		}, []string{"name", "reason"},
	)
	unexpectedExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unexpected_exits_total",
			Help:      "Number of times webfsd exited without a stop request.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"name", "from", "to"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "running",
			Help:      "1 while webfsd is running, 0 otherwise.",
		}, []string{"name"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "start_duration_seconds",
			Help:      "Time from spawn until the start window was passed.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"name"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{starts, stops, restarts, startFailures, unexpectedExits, stateTransitions, running, startDuration}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := registerOne(r, c); err != nil {
			return err
		}
	}
	regOK.Store(true)
	return nil
}

func registerOne(r prometheus.Registerer, c prometheus.Collector) error {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer, e.g. a private registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has succeeded.

func IncStart(name string) {
	if regOK.Load() {
		starts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		stops.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		restarts.WithLabelValues(name).Inc()
	}
}

func IncStartFailure(name, reason string) {
	if regOK.Load() {
		startFailures.WithLabelValues(name, reason).Inc()
	}
}

func IncUnexpectedExit(name string) {
	if regOK.Load() {
		unexpectedExits.WithLabelValues(name).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(name).Observe(seconds)
	}
}

// RecordStateTransition counts a transition and updates the running gauge.
func RecordStateTransition(name, from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(name, from, to).Inc()
	if to == "running" {
		running.WithLabelValues(name).Set(1)
	} else {
		running.WithLabelValues(name).Set(0)
	}
}
