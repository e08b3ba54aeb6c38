// Package metrics holds the prometheus collectors for the session lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to share between a session.Manager and an apiclient.Client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RefreshRequests prometheus.Counter
	RefreshFailures prometheus.Counter
	RefreshShared   prometheus.Counter
	Replays         *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imhotep",
			Subsystem: "session",
			Name:      "refresh_requests_total",
			Help:      "Refresh calls sent to the token endpoint.",
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imhotep",
			Subsystem: "session",
			Name:      "refresh_failures_total",
			Help:      "Refresh attempts that ended in a forced logout.",
		}),
		RefreshShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imhotep",
			Subsystem: "session",
			Name:      "refresh_shared_total",
			Help:      "Callers that attached to an in-flight refresh.",
		}),
		Replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imhotep",
			Subsystem: "apiclient",
			Name:      "replays_total",
			Help:      "Requests replayed after a 401, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.RefreshRequests, m.RefreshFailures, m.RefreshShared, m.Replays)
	}
	return m
}

func (m *Metrics) RefreshRequested() {
	if m != nil {
		m.RefreshRequests.Inc()
	}
}

func (m *Metrics) RefreshFailed() {
	if m != nil {
		m.RefreshFailures.Inc()
	}
}

func (m *Metrics) RefreshJoined() {
	if m != nil {
		m.RefreshShared.Inc()
	}
}

// Replayed records the outcome of a replay: "ok", "unauthorized" or "error".
func (m *Metrics) Replayed(outcome string) {
	if m != nil {
		m.Replays.WithLabelValues(outcome).Inc()
	}
}
