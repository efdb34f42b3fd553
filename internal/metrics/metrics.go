package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the daemon's counters. A nil *Metrics is valid and records
// nothing, so components can run without it.
type Metrics struct {
	registry       *prometheus.Registry
	updates        *prometheus.CounterVec
	unauthorized   prometheus.Counter
	dispatchPanics prometheus.Counter
	pollErrors     prometheus.Counter
	injections     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayd_updates_total",
			Help: "Chat updates received, by kind.",
		}, []string{"kind"}),
		unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayd_unauthorized_total",
			Help: "Updates dropped because they came from an unauthorized user or chat.",
		}),
		dispatchPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayd_dispatch_panics_total",
			Help: "Updates whose handling panicked.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayd_poll_errors_total",
			Help: "Failed long-poll requests.",
		}),
		injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayd_injections_total",
			Help: "Terminal injections, by protocol and result.",
		}, []string{"protocol", "result"}),
	}
	reg.MustRegister(
		m.updates, m.unauthorized, m.dispatchPanics, m.pollErrors, m.injections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Update(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

func (m *Metrics) Unauthorized() {
	if m == nil {
		return
	}
	m.unauthorized.Inc()
}

func (m *Metrics) DispatchPanic() {
	if m == nil {
		return
	}
	m.dispatchPanics.Inc()
}

func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *Metrics) Injection(protocol string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.injections.WithLabelValues(protocol, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, m *Metrics, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
