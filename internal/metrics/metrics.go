// Package metrics exposes the engine's operator-facing Prometheus surface:
// trade counts, open positions, cumulative P&L, and gate-rejection counts.
// Observability only; nothing here places or displays trades.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry bundles every metric the engine updates, registered against a
// private prometheus.Registry so tests can construct one without colliding
// with the default global registry.
type Registry struct {
	reg *prometheus.Registry

	TradesTotal          *prometheus.CounterVec
	OpenPositions        prometheus.Gauge
	CumulativePnL        prometheus.Gauge
	CashBalance          prometheus.Gauge
	GateRejections       *prometheus.CounterVec
	StrategyFired        *prometheus.CounterVec
	TickDuration         prometheus.Histogram
	UnderlyingVolatility *prometheus.GaugeVec
}

// New builds a registry with all engine metrics pre-registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		TradesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Closed paper trades by market class and exit reason.",
		}, []string{"market_class", "exit_reason"}),
		OpenPositions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Number of currently open paper positions.",
		}),
		CumulativePnL: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "engine_cumulative_pnl_dollars",
			Help: "Session cumulative realized P&L.",
		}),
		CashBalance: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "engine_cash_balance_dollars",
			Help: "Current paper cash balance.",
		}),
		GateRejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "engine_gate_rejections_total",
			Help: "Risk-gate rejections by reason.",
		}, []string{"reason"}),
		StrategyFired: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "engine_strategy_fired_total",
			Help: "Strategy candidate intents that fired, by tag and market class.",
		}, []string{"strategy_tag", "market_class"}),
		TickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_tick_duration_seconds",
			Help:    "Wall time spent in one 1Hz engine tick.",
			Buckets: prometheus.DefBuckets,
		}),
		UnderlyingVolatility: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_underlying_volatility",
			Help: "Coefficient of variation of the consensus price over the last 5m, by asset.",
		}, []string{"asset"}),
	}
	return r
}

// Serve runs an HTTP server exposing /metrics on addr until ctx is
// cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
		return nil
	case err := <-errCh:
		return err
	}
}
