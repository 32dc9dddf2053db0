package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection Lifecycle Metrics
var (
	// ConnectsTotal tracks connect attempts by result (ok, auth_failed, invalid, store_error)
	ConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_connects_total",
			Help: "Total connect attempts by result",
		},
		[]string{"result"},
	)

	// DisconnectsTotal tracks disconnects by result (ok, store_error)
	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_disconnects_total",
			Help: "Total disconnects by result",
		},
		[]string{"result"},
	)

	// ConnectionsRegistered is the number of records seen by the last scan or count
	ConnectionsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_connections_registered",
			Help: "Connection records in the store as of the last scan",
		},
	)
)

// Broadcast Metrics
var (
	// BroadcastsTotal tracks broadcasts by result (ok, partial_failure, scan_failed)
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_broadcasts_total",
			Help: "Total broadcasts by result",
		},
		[]string{"result"},
	)

	// BroadcastDuration tracks end-to-end broadcast latency including all deliveries
	BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanout_broadcast_duration_seconds",
			Help:    "Time to scan and deliver one broadcast to every candidate",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// DeliveriesTotal tracks per-connection deliveries by transport and outcome (delivered, gone, failed)
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_deliveries_total",
			Help: "Total per-connection deliveries by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	// DeliveryDuration tracks single delivery latency by transport
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fanout_delivery_duration_seconds",
			Help:    "Single delivery latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"transport"},
	)

	// EvictionsTotal tracks stale records removed by result (ok, error)
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_evictions_total",
			Help: "Stale connection records removed during broadcasts by result",
		},
		[]string{"result"},
	)
)

// Tenant Directory Metrics
var (
	TenantCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_cache_hits_total",
			Help: "Tenant credential lookups served from cache",
		},
	)

	TenantCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_cache_misses_total",
			Help: "Tenant credential lookups that went to the directory",
		},
	)

	TenantCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_cache_entries",
			Help: "Current tenant credential cache entries",
		},
	)

	// LoginChecksTotal tracks tenant login checks by result (ok, denied, error)
	LoginChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_login_checks_total",
			Help: "Tenant login checks by result",
		},
		[]string{"result"},
	)
)

// WebSocket Metrics
var (
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of open WebSocket connections on this instance",
		},
	)

	// WebSocketConnectionsRejected tracks refused upgrades by reason (capacity, connect_failed)
	WebSocketConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "WebSocket connections rejected by reason",
		},
		[]string{"reason"},
	)

	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "Time to write one message to a WebSocket",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total failed WebSocket pings",
		},
	)

	WebSocketIdleDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_idle_disconnects_total",
			Help: "WebSocket connections closed after the idle timeout",
		},
	)
)

// Redis Operations Metrics
var (
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState is 0=closed, 1=half-open, 2=open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Database Metrics
var (
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds by statement kind",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total database errors by statement kind",
		},
		[]string{"query"},
	)
)

// HTTP Metrics
var (
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP error responses by error type",
		},
		[]string{"type"},
	)

	// BuildInfo always reports 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)
