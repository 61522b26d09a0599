package monitoring

import (
	"strconv"
	"sync"
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

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcq_messages_sent_total",
			Help: "Messages handed to the backend, by kind (question/answer) and status",
		},
		[]string{"kind", "status"},
	)

	SlotResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcq_slots_total",
			Help: "Batch slots by result",
		},
		[]string{"result"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mcq_batch_duration_seconds",
			Help:    "Wall time of a batch run",
			Buckets: []float64{5, 15, 30, 60, 120, 300},
		},
	)

	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcq_session_transitions_total",
			Help: "Session state machine transitions",
		},
		[]string{"from", "to"},
	)

	SessionReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mcq_session_reconnects_total",
			Help: "Reconnect attempts scheduled by the session state machine",
		},
	)

	SessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcq_session_state",
			Help: "Current session state (0 disconnected, 1 connecting, 2 pairing, 3 open, 4 closing)",
		},
	)

	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcq_event_subscribers",
			Help: "Open websocket subscribers on /ws/events",
		},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(MessagesSent)
		prometheus.MustRegister(SlotResults)
		prometheus.MustRegister(BatchDuration)
		prometheus.MustRegister(SessionTransitions)
		prometheus.MustRegister(SessionReconnects)
		prometheus.MustRegister(SessionState)
		prometheus.MustRegister(EventSubscribers)
	})
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
