package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 同步引擎指标
	StatementsSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xapi_statements_synced_total",
			Help: "Statements confirmed by the LRS",
		},
	)

	StatementsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xapi_statements_failed_total",
			Help: "Statement submissions that failed",
		},
	)

	SyncPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xapi_sync_pass_duration_seconds",
			Help:    "Duration of full sync passes",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300},
		},
	)

	PendingStatements = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xapi_pending_statements",
			Help: "Statements waiting for sync in the offline store",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xapi_queue_depth",
			Help: "Statements held in the in-memory queue",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(StatementsSynced)
	prometheus.MustRegister(StatementsFailed)
	prometheus.MustRegister(SyncPassDuration)
	prometheus.MustRegister(PendingStatements)
	prometheus.MustRegister(QueueDepth)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
