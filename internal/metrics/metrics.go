// Package metrics exposes ledger counters and gauges in the Prometheus text
// format:
//
//	simledger_positions_opened_total{mode,side}
//	simledger_positions_closed_total{mode,reason,result}
//	simledger_positions_open{mode}
//	simledger_balance_available{pool}
//	simledger_realized_pnl_total{mode}
//	simledger_target_corrections_total
//	simledger_price_ticks_total
//	simledger_http_request_duration_seconds{method,route,code}
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple ledgers never clash
// on the global one.
type Metrics struct {
	reg *prometheus.Registry

	opened      *prometheus.CounterVec
	closed      *prometheus.CounterVec
	open        *prometheus.GaugeVec
	available   *prometheus.GaugeVec
	realized    *prometheus.CounterVec
	corrections prometheus.Counter
	ticks       prometheus.Counter
	httpLatency *prometheus.HistogramVec
}

// New registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simledger_positions_opened_total",
			Help: "Positions opened",
		}, []string{"mode", "side"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simledger_positions_closed_total",
			Help: "Positions closed by reason and result (win|loss)",
		}, []string{"mode", "reason", "result"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simledger_positions_open",
			Help: "Open and pending positions",
		}, []string{"mode"}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simledger_balance_available",
			Help: "Available balance per pool",
		}, []string{"pool"}),
		realized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simledger_realized_pnl_total",
			Help: "Sum of realized profits. Losses are not subtracted",
		}, []string{"mode"}),
		corrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simledger_target_corrections_total",
			Help: "Take-profit ladders adjusted by the validator",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simledger_price_ticks_total",
			Help: "Price ticks processed",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simledger_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
	m.reg.MustRegister(
		m.opened, m.closed, m.open, m.available, m.realized,
		m.corrections, m.ticks, m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) PositionOpened(mode, side string) {
	if m != nil {
		m.opened.WithLabelValues(mode, side).Inc()
	}
}

// PositionClosed counts a settled position. Profits also feed the realized
// counter, which must never decrease.
func (m *Metrics) PositionClosed(mode, reason string, pnl float64) {
	if m == nil {
		return
	}
	result := "loss"
	if pnl >= 0 {
		result = "win"
		m.realized.WithLabelValues(mode).Add(pnl)
	}
	m.closed.WithLabelValues(mode, reason, result).Inc()
}

func (m *Metrics) SetOpen(mode string, n int) {
	if m != nil {
		m.open.WithLabelValues(mode).Set(float64(n))
	}
}

func (m *Metrics) SetAvailable(pool string, v float64) {
	if m != nil {
		m.available.WithLabelValues(pool).Set(v)
	}
}

func (m *Metrics) TargetsCorrected() {
	if m != nil {
		m.corrections.Inc()
	}
}

func (m *Metrics) PriceTick() {
	if m != nil {
		m.ticks.Inc()
	}
}

// ObserveHTTP records one request.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m != nil {
		m.httpLatency.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
	}
}
