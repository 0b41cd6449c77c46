package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the session core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RefreshFlights   *prometheus.CounterVec
	RefreshWaiters   prometheus.Counter
	RequestAttempts  *prometheus.CounterVec
	RequestRetries   prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
	SessionLogouts   *prometheus.CounterVec
	HydrationOutcome *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RefreshFlights: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brewlog_refresh_flights_total",
			Help: "Refresh calls issued to the backend, by outcome",
		}, []string{"outcome"}),
		RefreshWaiters: f.NewCounter(prometheus.CounterOpts{
			Name: "brewlog_refresh_shared_total",
			Help: "Refresh requests that joined an in-flight refresh instead of starting one",
		}),
		RequestAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brewlog_request_attempts_total",
			Help: "Outbound request attempts, by classified outcome",
		}, []string{"outcome"}),
		RequestRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "brewlog_request_retries_total",
			Help: "Requests retried once after a token refresh",
		}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brewlog_request_duration_seconds",
			Help:    "Latency of outbound request attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		SessionLogouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brewlog_session_logouts_total",
			Help: "Session collapses to empty, by reason",
		}, []string{"reason"}),
		HydrationOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brewlog_session_hydrations_total",
			Help: "Startup hydration results",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncRefreshFlight(outcome string) {
	if m == nil {
		return
	}
	m.RefreshFlights.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRefreshShared() {
	if m == nil {
		return
	}
	m.RefreshWaiters.Inc()
}

func (m *Metrics) ObserveAttempt(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestAttempts.WithLabelValues(outcome).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RequestRetries.Inc()
}

func (m *Metrics) IncLogout(reason string) {
	if m == nil {
		return
	}
	m.SessionLogouts.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncHydration(outcome string) {
	if m == nil {
		return
	}
	m.HydrationOutcome.WithLabelValues(outcome).Inc()
}
