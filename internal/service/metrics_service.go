package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the auth
// service.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	signInTotal        prometheus.Counter
	refreshTotal       prometheus.Counter
	signOutTotal       prometheus.Counter
	reuseDetectedTotal prometheus.Counter
	sessionHits        prometheus.Counter
	sessionMisses      prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	signInTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sign_ins_total",
		Help: "Total successful sign-ins",
	})

	refreshTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refreshes_total",
		Help: "Total successful refresh rotations",
	})

	signOutTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sign_outs_total",
		Help: "Total sign-outs",
	})

	reuseDetectedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_detected_total",
		Help: "Total refresh-token replays detected; each one invalidates a family",
	})

	sessionHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_session_hits_total",
		Help: "Total session-store lookups that found a live session",
	})

	sessionMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_session_misses_total",
		Help: "Total session-store lookups that found no session",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, signInTotal, refreshTotal, signOutTotal, reuseDetectedTotal, sessionHits, sessionMisses, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		signInTotal:        signInTotal,
		refreshTotal:       refreshTotal,
		signOutTotal:       signOutTotal,
		reuseDetectedTotal: reuseDetectedTotal,
		sessionHits:        sessionHits,
		sessionMisses:      sessionMisses,
	}
}

// Handler returns the Prometheus scrape handler.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if s == nil {
		return
	}
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// IncSignIn counts a successful sign-in.
func (s *MetricsService) IncSignIn() {
	if s != nil {
		s.signInTotal.Inc()
	}
}

// IncRefresh counts a successful rotation.
func (s *MetricsService) IncRefresh() {
	if s != nil {
		s.refreshTotal.Inc()
	}
}

// IncSignOut counts a sign-out.
func (s *MetricsService) IncSignOut() {
	if s != nil {
		s.signOutTotal.Inc()
	}
}

// IncReuseDetected counts a detected refresh replay.
func (s *MetricsService) IncReuseDetected() {
	if s != nil {
		s.reuseDetectedTotal.Inc()
	}
}

// IncSessionHit counts a session-store hit.
func (s *MetricsService) IncSessionHit() {
	if s != nil {
		s.sessionHits.Inc()
	}
}

// IncSessionMiss counts a session-store miss.
func (s *MetricsService) IncSessionMiss() {
	if s != nil {
		s.sessionMisses.Inc()
	}
}
