package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coursehub_ws_connections",
		Help: "Current number of active hub connections",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coursehub_online_users",
		Help: "Current number of distinct users with at least one live connection",
	})
	ChatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coursehub_chat_messages_total",
		Help: "Chat message pipeline operations that committed",
	}, []string{"op"})
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coursehub_notifications_total",
		Help: "Server-initiated notifications fanned out",
	}, []string{"kind"})
	NotificationDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coursehub_notification_deliveries_total",
		Help: "Connections a notification was queued to",
	}, []string{"kind"})
	HubInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coursehub_hub_invocations_total",
		Help: "Client hub invocations by target and outcome",
	}, []string{"target", "outcome"})
	SlowConsumersDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coursehub_slow_consumers_dropped_total",
		Help: "Connections dropped because their send buffer was full",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, OnlineUsers, ChatMessagesTotal, NotificationsTotal, NotificationDeliveries,
		HubInvocationsTotal, SlowConsumersDropped, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
