package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for the claim and scoring surfaces.
type Metrics struct {
	ClaimsTotal *prometheus.CounterVec
	EventsTotal *prometheus.CounterVec
	ScoresTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the service metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditscope_claims_total",
				Help: "Total number of submitted claims by outcome",
			},
			[]string{"status"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditscope_ledger_events_total",
				Help: "Total number of emitted ledger events by kind",
			},
			[]string{"kind"},
		),
		ScoresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditscope_score_requests_total",
				Help: "Total number of score reads by scope",
			},
			[]string{"scope"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.ClaimsTotal, m.EventsTotal, m.ScoresTotal)
	}
	return m
}
