package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for a single upstream candidate attempt.
const (
	OutcomeOK        = "ok"
	OutcomeTransport = "transport"
	OutcomeShape     = "shape"
)

type Registry struct {
	reg             *prometheus.Registry
	UpstreamAttempt *prometheus.CounterVec
	Cycles          *prometheus.CounterVec
	StaleDiscarded  *prometheus.CounterVec
	CountdownCached prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_upstream_attempts_total",
		Help: "Upstream candidate attempts by outcome.",
	}, []string{"candidate", "outcome"})
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_aggregation_cycles_total",
		Help: "Completed aggregation cycles by final status.",
	}, []string{"feed", "status"})
	stale := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_stale_results_discarded_total",
		Help: "Aggregation results dropped because a newer cycle had started.",
	}, []string{"feed"})
	cached := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_countdown_cache_entries",
		Help: "Listing ids with a pinned countdown end time.",
	})

	r.MustRegister(attempts, cycles, stale, cached)
	return &Registry{
		reg:             r,
		UpstreamAttempt: attempts,
		Cycles:          cycles,
		StaleDiscarded:  stale,
		CountdownCached: cached,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
