package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "messaging_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	busSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_bus_subscribers",
			Help: "Number of active realtime subscriptions.",
		},
	)
	busDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_bus_dispatched_messages_total",
			Help: "Messages read by room dispatchers for live delivery.",
		},
	)
	busSlowConsumersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_bus_slow_consumers_total",
			Help: "Subscriptions terminated because their queue was full.",
		},
	)
	busDispatchErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_bus_dispatch_errors_total",
			Help: "Store reads that failed in a room dispatcher.",
		},
	)
	relayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_relay_errors_total",
			Help: "Redis relay failures.",
		},
		[]string{"op"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_notifications_total",
			Help: "Notification events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		busSubscribers,
		busDispatchedTotal,
		busSlowConsumersTotal,
		busDispatchErrorsTotal,
		relayErrorsTotal,
		notificationsTotal,
	)
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
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

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncBusSubscribers() {
	busSubscribers.Inc()
}

func DecBusSubscribers() {
	busSubscribers.Dec()
}

func AddBusDispatched(n int) {
	busDispatchedTotal.Add(float64(n))
}

func IncBusSlowConsumer() {
	busSlowConsumersTotal.Inc()
}

func IncBusDispatchError() {
	busDispatchErrorsTotal.Inc()
}

func IncRelayError(op string) {
	relayErrorsTotal.WithLabelValues(op).Inc()
}

// IncNotification counts a notification event outcome: created, duplicate, dropped or failed.
func IncNotification(kind, outcome string) {
	notificationsTotal.WithLabelValues(kind, outcome).Inc()
}
