package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_http_requests_total",
			Help: "Total number of HTTP requests processed by the inbox service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_ws_active_connections",
			Help: "Number of active inbox websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_active_sessions",
			Help: "Number of inbox sessions held in memory.",
		},
	)
	selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_selections_total",
			Help: "Conversation selections by kind.",
		},
		[]string{"kind"},
	)
	markReadFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_mark_read_failures_total",
			Help: "Mark-all-read calls that failed.",
		},
		[]string{"kind"},
	)
	typingEmitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_typing_emits_total",
			Help: "Outbound typing signals by value and result.",
		},
		[]string{"typing", "result"},
	)
	sendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_send_failures_total",
			Help: "Messages whose send failed and are waiting for a retry.",
		},
		[]string{"kind"},
	)
	presenceFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_presence_fallbacks_total",
			Help: "Presence lookups that failed and fell back to offline.",
		},
	)
	adapterRefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_adapter_refresh_duration_seconds",
			Help:    "Conversation source refresh latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "result"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		activeSessions,
		selectionsTotal,
		markReadFailuresTotal,
		typingEmitsTotal,
		sendFailuresTotal,
		presenceFallbacksTotal,
		adapterRefreshDuration,
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

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func IncSelection(kind string) {
	selectionsTotal.WithLabelValues(kind).Inc()
}

func IncMarkReadFailure(kind string) {
	markReadFailuresTotal.WithLabelValues(kind).Inc()
}

func IncTypingEmit(isTyping bool, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	typingEmitsTotal.WithLabelValues(strconv.FormatBool(isTyping), result).Inc()
}

func IncSendFailure(kind string) {
	sendFailuresTotal.WithLabelValues(kind).Inc()
}

func IncPresenceFallback() {
	presenceFallbacksTotal.Inc()
}

func ObserveRefresh(kind string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	adapterRefreshDuration.WithLabelValues(kind, result).Observe(time.Since(start).Seconds())
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
