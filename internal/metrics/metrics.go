package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hookd",
			Subsystem: "webhook",
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome (activated, queued, conflict, rejected).",
		}, []string{"outcome"},
	)
	deregistrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hookd",
			Subsystem: "webhook",
			Name:      "deregistrations_total",
			Help:      "Number of listeners withdrawn from their path.",
		},
	)
	promotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hookd",
			Subsystem: "webhook",
			Name:      "promotions_total",
			Help:      "Number of queued listeners promoted to active.",
		},
	)
	activePaths = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hookd",
			Subsystem: "webhook",
			Name:      "active_paths",
			Help:      "Context paths that currently have an owner.",
		},
	)
	queuedListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hookd",
			Subsystem: "webhook",
			Name:      "queued_listeners",
			Help:      "Listeners waiting for a path across all paths.",
		},
	)
	inboundRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hookd",
			Subsystem: "inbound",
			Name:      "requests_total",
			Help:      "Inbound webhook requests by response code.",
		}, []string{"code"},
	)
	inboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hookd",
			Subsystem: "inbound",
			Name:      "request_duration_seconds",
			Help:      "Time spent verifying and triggering inbound requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code"},
	)
	historyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hookd",
			Subsystem: "history",
			Name:      "dropped_total",
			Help:      "History events dropped because the dispatch buffer was full.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{registrations, deregistrations, promotions, activePaths, queuedListeners, inboundRequests, inboundDuration, historyDropped}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func IncRegistration(outcome string) {
	if regOK.Load() {
		registrations.WithLabelValues(outcome).Inc()
	}
}

func IncDeregistration() {
	if regOK.Load() {
		deregistrations.Inc()
	}
}

func IncPromotion() {
	if regOK.Load() {
		promotions.Inc()
	}
}

func SetActivePaths(n int) {
	if regOK.Load() {
		activePaths.Set(float64(n))
	}
}

func SetQueued(n int) {
	if regOK.Load() {
		queuedListeners.Set(float64(n))
	}
}

func ObserveInbound(code int, seconds float64) {
	if regOK.Load() {
		c := strconv.Itoa(code)
		inboundRequests.WithLabelValues(c).Inc()
		inboundDuration.WithLabelValues(c).Observe(seconds)
	}
}

func IncHistoryDropped() {
	if regOK.Load() {
		historyDropped.Inc()
	}
}
