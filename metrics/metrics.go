// Package metrics counts the agent's own activity: cycles run, records
// persisted and diagnostics raised. Host samples are not exported here.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the agent counters and the registry they live in.
type Metrics struct {
	Registry    *prometheus.Registry
	Cycles      prometheus.Counter
	Records     *prometheus.CounterVec
	Diagnostics *prometheus.CounterVec
}

// New registers the agent counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hostmon",
			Name:      "cycles_total",
			Help:      "Collection cycles completed.",
		}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostmon",
			Name:      "records_total",
			Help:      "Records persisted, by category and sink.",
		}, []string{"category", "sink"}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostmon",
			Name:      "diagnostics_total",
			Help:      "Per-category failures, by category and stage.",
		}, []string{"category", "stage"}),
	}
	reg.MustRegister(m.Cycles, m.Records, m.Diagnostics)
	return m
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving agent metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
