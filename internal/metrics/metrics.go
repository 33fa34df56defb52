package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Clients pushed through the ranking engine.
	ClientsRanked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "benefit_clients_ranked_total",
		Help: "Total number of clients ranked",
	})

	// Wall time of one Rank or RankParallel call.
	RankDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "benefit_rank_duration_seconds",
		Help:    "Latency of a ranking batch",
		Buckets: prometheus.DefBuckets,
	})

	UnknownFormula = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "benefit_unknown_formula_total",
		Help: "Benefit evaluations that hit a formula kind with no rule",
	}, []string{"kind"})

	PushRefineFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "benefit_push_refine_failures_total",
		Help: "Push refinements that fell back to the template text",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "benefit_http_requests_total",
		Help: "HTTP requests served by route and status",
	}, []string{"route", "status"})
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			ClientsRanked,
			RankDuration,
			UnknownFormula,
			PushRefineFailures,
			HTTPRequests,
		)
	})
}
