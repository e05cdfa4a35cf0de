// internal/metrics/metrics.go
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the sync loop's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal     prometheus.Counter
	CyclesSkipped   prometheus.Counter
	CycleDuration   prometheus.Histogram
	PositionsOpened prometheus.Counter
	PositionsClosed prometheus.Counter
	ExecFailures    prometheus.Counter
	StageErrors     *prometheus.CounterVec
	ActiveTraders   prometheus.Gauge
	OpenPositions   prometheus.Gauge
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copybot_sync_cycles_total",
			Help: "Completed sync cycles.",
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copybot_sync_cycles_skipped_total",
			Help: "Cycles short-circuited because no trader had new fills.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copybot_sync_cycle_duration_seconds",
			Help:    "Wall time of a full sync cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		PositionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copybot_positions_opened_total",
			Help: "Positions opened by the sync loop.",
		}),
		PositionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copybot_positions_closed_total",
			Help: "Positions closed by the sync loop.",
		}),
		ExecFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copybot_execution_failures_total",
			Help: "Execution attempts that reported failure.",
		}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copybot_stage_errors_total",
			Help: "Errors absorbed per pipeline stage.",
		}, []string{"stage"}),
		ActiveTraders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copybot_active_traders",
			Help: "Traders currently active in the roster.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copybot_open_positions",
			Help: "Follower positions open after the last cycle.",
		}),
	}

	registry.MustRegister(
		m.CyclesTotal, m.CyclesSkipped, m.CycleDuration,
		m.PositionsOpened, m.PositionsClosed, m.ExecFailures,
		m.StageErrors, m.ActiveTraders, m.OpenPositions,
	)
	return m
}

// Serve exposes /metrics on addr until the context ends. A blank addr
// disables the server.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("Metrics server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
