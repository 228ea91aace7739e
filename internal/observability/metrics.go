package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the sync service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	relationshipOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_relationship_operations_total",
			Help: "Relationship state machine operations by outcome code.",
		},
		[]string{"op", "outcome"},
	)
	chatOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_chat_operations_total",
			Help: "Chat and message operations by outcome code.",
		},
		[]string{"op", "outcome"},
	)
	txRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_transaction_retries_total",
			Help: "Document store transactions retried after a conflicting commit.",
		},
		[]string{"driver"},
	)
	liveListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_live_listeners",
			Help: "Number of open live query listeners.",
		},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	presenceWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_presence_writes_total",
			Help: "Presence evaluations by resulting status and write result.",
		},
		[]string{"status", "result"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		relationshipOpsTotal,
		chatOpsTotal,
		txRetriesTotal,
		liveListeners,
		wsActiveConnections,
		wsEventsTotal,
		presenceWritesTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncRelationshipOp(op, outcome string) {
	relationshipOpsTotal.WithLabelValues(op, outcome).Inc()
}

func IncChatOp(op, outcome string) {
	chatOpsTotal.WithLabelValues(op, outcome).Inc()
}

func IncTxRetry(driver string) {
	txRetriesTotal.WithLabelValues(driver).Inc()
}

func IncLiveListeners() {
	liveListeners.Inc()
}

func DecLiveListeners() {
	liveListeners.Dec()
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncPresenceWrite(status, result string) {
	presenceWritesTotal.WithLabelValues(status, result).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
