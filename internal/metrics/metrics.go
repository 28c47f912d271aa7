package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_cache_requests_total",
		Help: "Token cache lookups by token kind and result (hit, miss).",
	}, []string{"kind", "result"})

	TokenSignIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_cache_sign_ins_total",
		Help: "Sign-in round trips made by the token cache.",
	}, []string{"kind", "outcome"})

	ClaimRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_cache_claim_repairs_total",
		Help: "Account metadata updates made to add a missing claim.",
	}, []string{"claim"})

	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_total",
		Help: "Postgres change events handled by realtime subscriptions.",
	}, []string{"table", "outcome"})

	RealtimeStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_status_total",
		Help: "Realtime channel lifecycle transitions.",
	}, []string{"table", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"path", "method", "status"})
)
