package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
// All methods are safe on a nil *Metrics so components can run without metrics.
type Metrics struct {
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CallTransitionTotal *prometheus.CounterVec
	NotificationTotal   *prometheus.CounterVec
	NotificationLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
// Collectors already registered on reg are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		CallTransitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_transitions_total",
			Help: "Call state transitions by outcome (ok, noop or an error kind)",
		}, []string{"transition", "outcome"}),

		NotificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_notifications_total",
			Help: "Broadcast and push deliveries by outcome",
		}, []string{"channel", "event", "outcome"}),

		NotificationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "call_notification_duration_seconds",
			Help:    "Time spent delivering one transition's notifications",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
	}

	m.HTTPRequestTotal = registerOrGet(reg, m.HTTPRequestTotal)
	m.HTTPRequestDuration = registerOrGet(reg, m.HTTPRequestDuration)
	m.CallTransitionTotal = registerOrGet(reg, m.CallTransitionTotal)
	m.NotificationTotal = registerOrGet(reg, m.NotificationTotal)
	m.NotificationLatency = registerOrGet(reg, m.NotificationLatency)
	return m
}

func registerOrGet[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// ObserveTransition counts one transition attempt.
func (m *Metrics) ObserveTransition(transition, outcome string) {
	if m == nil {
		return
	}
	m.CallTransitionTotal.WithLabelValues(transition, outcome).Inc()
}

// ObserveNotification counts one broadcast or push delivery attempt.
func (m *Metrics) ObserveNotification(channel, event, outcome string) {
	if m == nil {
		return
	}
	m.NotificationTotal.WithLabelValues(channel, event, outcome).Inc()
}

func (m *Metrics) ObserveDispatch(event string, d time.Duration) {
	if m == nil {
		return
	}
	m.NotificationLatency.WithLabelValues(event).Observe(d.Seconds())
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
