package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BootstrapPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorviz_bootstrap_phase_duration_seconds",
			Help:    "Time taken by each bootstrap phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase", "outcome"},
	)

	ServiceRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "explorviz_service_running",
			Help: "1 while the service is running, 0 otherwise",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorviz_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorviz_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorviz_rpc_requests_total",
			Help: "Total number of RPC calls handled",
		},
		[]string{"method", "code"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorviz_rpc_request_duration_seconds",
			Help:    "Time taken to serve RPC calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	InFlightRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "explorviz_inflight_requests",
			Help: "Requests currently being served",
		},
		[]string{"surface"},
	)

	RejectedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorviz_rejected_requests_total",
			Help: "Requests rejected before reaching a handler",
		},
		[]string{"surface", "reason"},
	)

	GraphQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorviz_graph_query_duration_seconds",
			Help:    "Time taken by graph store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorviz_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorviz_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorviz_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"cache", "operation"},
	)
)
