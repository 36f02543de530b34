// Package metrics holds the Prometheus collectors for the bot and implements
// the recorder interfaces of the lifecycle, scheduler, cache and mention
// packages.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mentorbot"

// Metrics is a private registry plus the bot's collectors. A nil *Metrics is
// safe to use and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	transitions     *prometheus.CounterVec
	followUps       *prometheus.CounterVec
	reservations    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	fallbacks       prometheus.Counter
	questions       *prometheus.GaugeVec
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Question lifecycle operations by operation and outcome",
	}, []string{"op", "outcome"})

	followUps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "followups_total",
		Help:      "Follow-up timer firings by stage and outcome",
	}, []string{"stage", "outcome"})

	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_total",
		Help:      "Reservation scheduler events by outcome",
	}, []string{"outcome"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "roster_cache_lookups_total",
		Help:      "Mentor roster cache lookups by result",
	}, []string{"result"})

	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_fallbacks_total",
		Help:      "Question posts redirected to the default mentor channel",
	})

	questions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "questions",
		Help:      "Questions by status at the last refresh",
	}, []string{"status"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "goroutines",
		Help:      "Number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(transitions, followUps, reservations, cacheLookups, fallbacks,
		questions, requestDuration, requestTotal, goroutines)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		transitions:     transitions,
		followUps:       followUps,
		reservations:    reservations,
		cacheLookups:    cacheLookups,
		fallbacks:       fallbacks,
		questions:       questions,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) ObserveTransition(op, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveFollowUp(stage, outcome string) {
	if m == nil {
		return
	}
	m.followUps.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveChannelFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// SetQuestionCounts replaces the per-status gauge values. Statuses absent
// from counts are reset to zero.
func (m *Metrics) SetQuestionCounts(statuses []string, counts map[string]int) {
	if m == nil {
		return
	}
	for _, s := range statuses {
		m.questions.WithLabelValues(s).Set(float64(counts[s]))
	}
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, label).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, label).Inc()
}

// GinMiddleware records request count and latency, labelled by route pattern.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		m.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
