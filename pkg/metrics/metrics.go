package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkerEvents counts dispatched worker events by type (install|activate|fetch|sync|push|notificationclick|message).
	WorkerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greentrace_worker_events_total",
			Help: "Total number of worker events dispatched",
		},
		[]string{"type"},
	)

	// FetchResponses counts intercepted requests by strategy and where the response came from
	// (cache|network|fallback|passthrough).
	FetchResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greentrace_worker_fetch_responses_total",
			Help: "Intercepted requests by strategy and response source",
		},
		[]string{"strategy", "source"},
	)

	// Revalidations counts background stale-while-revalidate refreshes by result (updated|unchanged|error).
	Revalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greentrace_worker_revalidations_total",
			Help: "Background cache revalidations",
		},
		[]string{"result"},
	)

	// SyncReplays counts replayed offline writes by kind and result (success|failure).
	SyncReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greentrace_sync_replays_total",
			Help: "Offline queue replays by kind and result",
		},
		[]string{"kind", "result"},
	)

	// PendingRecords tracks the number of queued offline writes per kind.
	PendingRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "greentrace_sync_pending_records",
			Help: "Pending offline writes per kind",
		},
		[]string{"kind"},
	)

	// UpstreamOnline is 1 while the connectivity probe reaches the upstream origin.
	UpstreamOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "greentrace_upstream_online",
			Help: "Whether the last connectivity probe succeeded",
		},
	)

	// ConnectedWindows tracks page windows registered over the client websocket.
	ConnectedWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "greentrace_connected_windows",
			Help: "Number of registered client windows",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "greentrace_http_latency_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
