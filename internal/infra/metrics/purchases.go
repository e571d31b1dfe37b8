package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		purchaseTransitionsTotal,
		irregularTransitionsTotal,
		pollOutcomesTotal,
		pollAttempts,
		reconcilerRunsTotal,
	)
}

var (
	// source: gateway|poller|reconciler|guard
	purchaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_purchase_transitions_total",
			Help: "Observed purchase status transitions by target status and observer.",
		},
		[]string{"to", "source"},
	)

	irregularTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_purchase_irregular_transitions_total",
			Help: "Journaled transitions the purchase state machine does not allow.",
		},
		[]string{"from", "to"},
	)

	// outcome: terminal|exhausted|failed|cancelled
	pollOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_poll_outcomes_total",
			Help: "Finished status polls by outcome.",
		},
		[]string{"outcome"},
	)

	pollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkout_poll_attempts",
			Help:    "Fetches issued per finished status poll.",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30, 60},
		},
	)

	// result: ok|error
	reconcilerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_reconciler_runs_total",
			Help: "Pending reconciler sweeps by result.",
		},
		[]string{"result"},
	)
)

func IncTransition(to, source string) {
	purchaseTransitionsTotal.WithLabelValues(norm(to), norm(source)).Inc()
}

func IncIrregularTransition(from, to string) {
	irregularTransitionsTotal.WithLabelValues(norm(from), norm(to)).Inc()
}

func ObservePoll(outcome string, attempts int) {
	pollOutcomesTotal.WithLabelValues(norm(outcome)).Inc()
	pollAttempts.Observe(float64(attempts))
}

func IncReconcilerRun(ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	reconcilerRunsTotal.WithLabelValues(result).Inc()
}
