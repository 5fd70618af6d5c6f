// Package metrics provides the coordinator's Prometheus metric definitions
// and a Basic-Auth-gated /metrics HTTP server, registered against a private
// registry per process alongside the standard Go and process collectors.
package metrics

import (
	"crypto/subtle"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds every Prometheus metric the coordinator exposes.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPDurationSeconds *prometheus.HistogramVec

	TaskClaimsTotal     *prometheus.CounterVec
	TaskCompletionsTotal *prometheus.CounterVec
	TasksReclaimedTotal prometheus.Counter
	TokensSweptTotal    prometheus.Counter

	ActiveUserTokens prometheus.Gauge
	LiveWorkers      prometheus.Gauge

	HubSubscribers   prometheus.Gauge
	HubBroadcastsTotal prometheus.Counter

	registry *prometheus.Registry
}

// New registers and returns a new Metrics instance backed by its own
// Prometheus registry, namespaced "transcribee_coordinator".
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	const ns = "transcribee"
	const sub = "coordinator"

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "http_requests_total",
			Help: "Total HTTP requests served by the coordinator's REST surface.",
		}, []string{"method", "path", "status_code"}),

		HTTPDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests served by the coordinator.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		TaskClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "task_claims_total",
			Help: "Total task claim attempts, labeled by task_type and outcome.",
		}, []string{"task_type", "outcome"}),

		TaskCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "task_completions_total",
			Help: "Total task terminations, labeled by task_type and result (completed|failed).",
		}, []string{"task_type", "result"}),

		TasksReclaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "tasks_reclaimed_total",
			Help: "Total tasks reclaimed by the timeout sweeper after a silent attempt.",
		}),

		TokensSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "expired_tokens_swept_total",
			Help: "Total expired user tokens deleted by the token sweeper.",
		}),

		ActiveUserTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "active_user_tokens",
			Help: "Current number of non-expired user tokens.",
		}),

		LiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "live_workers",
			Help: "Number of workers that have made contact within the worker timeout window.",
		}),

		HubSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sync_hub_subscribers",
			Help: "Current number of open document sync websocket connections.",
		}),

		HubBroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sync_hub_broadcasts_total",
			Help: "Total document change broadcasts fanned out by the sync hub.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPDurationSeconds,
		m.TaskClaimsTotal,
		m.TaskCompletionsTotal,
		m.TasksReclaimedTotal,
		m.TokensSweptTotal,
		m.ActiveUserTokens,
		m.LiveWorkers,
		m.HubSubscribers,
		m.HubBroadcastsTotal,
	)

	return m
}

// Handler returns an http.Handler serving /metrics, gated by HTTP Basic
// Auth when username is non-empty.
func (m *Metrics) Handler(username, password string, log zerolog.Logger) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	if username == "" {
		return inner
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			log.Warn().Str("remote_addr", r.RemoteAddr).Msg("rejected metrics request with bad credentials")
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		inner.ServeHTTP(w, r)
	})
}
