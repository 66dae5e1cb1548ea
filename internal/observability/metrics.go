package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "requests_created_total", Help: "Total emergency requests created"})
	ClaimsTotal     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "claims_total", Help: "Claim attempts by outcome"},
		[]string{"outcome"},
	)
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "transitions_total", Help: "Successful lifecycle transitions by event"},
		[]string{"event"},
	)
	CandidatesListed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roadside_dispatch",
		Name:      "candidates_listed",
		Help:      "Number of candidates returned per listing",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})
	ListLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "roadside_dispatch", Name: "list_candidates_latency_seconds", Help: "ListCandidates latency seconds"})
	NotifyErrors  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "notify_errors_total", Help: "Failed notifier deliveries"}, []string{"sink"})
	ProviderPings = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "provider_availability_updates_total", Help: "Provider availability updates accepted"})
	WSSessions    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "roadside_dispatch", Name: "ws_sessions", Help: "Connected provider WebSocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadside_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
