package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		sessionRefreshTotal,
		sessionRefreshWaiters,
		sessionRetriesTotal,
	)
}

var (
	// result: ok|fail
	sessionRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_session_refresh_total",
			Help: "Refresh-token requests actually sent, by result.",
		},
		[]string{"result"},
	)

	sessionRefreshWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkout_session_refresh_waiters",
			Help: "Callers currently waiting on the in-flight session refresh.",
		},
	)

	// result: ok|unauthorized|refresh_failed
	sessionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_session_retries_total",
			Help: "Requests retried once after a 401, by outcome.",
		},
		[]string{"result"},
	)
)

func IncSessionRefresh(ok bool) {
	result := "fail"
	if ok {
		result = "ok"
	}
	sessionRefreshTotal.WithLabelValues(result).Inc()
}

func SetSessionRefreshWaiters(n int) {
	sessionRefreshWaiters.Set(float64(n))
}

func IncSessionRetry(result string) {
	sessionRetriesTotal.WithLabelValues(norm(result)).Inc()
}
