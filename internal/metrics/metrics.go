// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LedgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "masterybot_ledger_appends_total",
			Help: "Ledger append results by outcome",
		},
		[]string{"outcome"},
	)

	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "masterybot_gate_decisions_total",
			Help: "Duplicate gate decisions by rejection reason or acceptance",
		},
		[]string{"decision"},
	)

	GenerationFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "masterybot_generation_fallbacks_total",
			Help: "Items served by the local generator, by reason",
		},
		[]string{"reason"},
	)

	DriftReports = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "masterybot_drift_reports_total",
			Help: "Reconciliations that found the live model diverging from the ledger",
		},
	)
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(LedgerAppends)
		prometheus.MustRegister(GateDecisions)
		prometheus.MustRegister(GenerationFallbacks)
		prometheus.MustRegister(DriftReports)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
