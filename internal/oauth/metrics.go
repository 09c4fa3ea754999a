package oauth

import "github.com/prometheus/client_golang/prometheus"

var (
	loginSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joule_session_login_success_total",
			Help: "Successful password-grant logins",
		},
		[]string{"provider"},
	)
	loginFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joule_session_login_failure_total",
			Help: "Failed password-grant logins",
		},
		[]string{"provider"},
	)
	tokenValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "joule_session_token_valid",
			Help: "Access token validity (1=valid, 0=invalid)",
		},
		[]string{"provider"},
	)
	tokenExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "joule_session_token_expiry_timestamp_seconds",
			Help: "Unix time at which the cached access token expires",
		},
		[]string{"provider"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "joule_session_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"provider"},
	)
	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joule_session_invalidations_total",
			Help: "Access tokens dropped after the API rejected them",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for the shared session module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		loginSuccess,
		loginFailure,
		tokenValid,
		tokenExpiry,
		remotePersistOK,
		invalidations,
	}
}
