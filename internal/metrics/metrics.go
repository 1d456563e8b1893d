// Package metrics exposes engine and notifier counters over a Prometheus
// scrape endpoint. The endpoint is optional and disabled by default; the
// counters are cheap to increment whether or not the server is running.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"heartbeat/pkg/logx"
)

// Metrics holds the Prometheus instruments on a private registry so test
// instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal        *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	dropsTotal         *prometheus.CounterVec
	storeErrorsTotal   prometheus.Counter
	trackedViewers     prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartbeat_events_total",
		Help: "Chat events received, by type",
	}, []string{"type"})
	notificationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartbeat_notifications_total",
		Help: "Notifications enqueued, by category tag prefix",
	}, []string{"category"})
	dropsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartbeat_notification_drops_total",
		Help: "Notifications dropped before delivery, by reason",
	}, []string{"reason"})
	storeErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartbeat_store_errors_total",
		Help: "Viewer store operations that returned an error",
	})
	trackedViewers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartbeat_tracked_viewers",
		Help: "Distinct viewers in the history store",
	})

	registry.MustRegister(
		eventsTotal,
		notificationsTotal,
		dropsTotal,
		storeErrorsTotal,
		trackedViewers,
	)

	return &Metrics{
		registry:           registry,
		eventsTotal:        eventsTotal,
		notificationsTotal: notificationsTotal,
		dropsTotal:         dropsTotal,
		storeErrorsTotal:   storeErrorsTotal,
		trackedViewers:     trackedViewers,
	}
}

// IncEvent records one received event; typ is "message", "raid",
// "subscription", or "watch_streak".
func (m *Metrics) IncEvent(typ string) {
	m.eventsTotal.WithLabelValues(typ).Inc()
}

// IncNotification records one enqueued notification by category.
func (m *Metrics) IncNotification(category string) {
	m.notificationsTotal.WithLabelValues(category).Inc()
}

// IncDrop records a notification lost before delivery; reason is
// "queue_full", "dedup", "stopped", or "sink_error".
func (m *Metrics) IncDrop(reason string) {
	m.dropsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncStoreError() {
	m.storeErrorsTotal.Inc()
}

func (m *Metrics) SetTrackedViewers(n int) {
	m.trackedViewers.Set(float64(n))
}

// Handler serves the scrape endpoint. updateGauges, if non-nil, runs before
// each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Server is the optional scrape listener.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(addr string, m *Metrics, updateGauges func(), log logx.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", m.Handler(updateGauges))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With(logx.String("comp", "metrics")),
	}
}

// Start begins serving in the background. Listen failures are logged, not
// fatal: a busy port must not take the bot down.
func (s *Server) Start() {
	s.log.Info("metrics listening", logx.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server stopped", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("metrics shutdown", logx.Err(err))
	}
}
