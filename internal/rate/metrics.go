package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	remainingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "joule_rate_limit_remaining",
			Help: "Remaining requests for the provider rate-limit window",
		},
		[]string{"provider", "window"},
	)
	retryAfterGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "joule_rate_limit_retry_after_seconds",
			Help: "Retry-after seconds for provider rate limits",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "joule_rate_limit_last_status_code",
			Help: "Last HTTP status code observed by the rate-limit wrapper",
		},
		[]string{"provider"},
	)
	blockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joule_rate_limit_blocked_total",
			Help: "Requests blocked by the rate-limit wrapper",
		},
		[]string{"provider", "reason"},
	)
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joule_rate_limit_cache_hits_total",
			Help: "Blocked requests answered from the response cache",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		remainingGauge,
		retryAfterGauge,
		lastStatusGauge,
		blockedTotal,
		cacheHits,
	}
}
