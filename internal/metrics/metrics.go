// Package metrics exposes gateway counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the gateway's collectors. A nil *Registry is valid and
// records nothing, so components can run without metrics wired in.
type Registry struct {
	reg *prometheus.Registry

	riskChecks   *prometheus.CounterVec
	killSwitch   prometheus.Gauge
	dailyPnL     prometheus.Gauge
	ledgerFills  *prometheus.CounterVec
	ledgerReject *prometheus.CounterVec
	ledgerCash   prometheus.Gauge
	orders       *prometheus.CounterVec
}

// New creates a registry whose metric names are prefixed with namespace.
func New(namespace string) *Registry {
	if namespace == "" {
		namespace = "order_gateway"
	}

	r := &Registry{
		reg: prometheus.NewRegistry(),
		riskChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_checks_total",
				Help:      "Pre-trade risk decisions by check and result",
			},
			[]string{"check", "result"},
		),
		killSwitch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kill_switch_active",
			Help:      "1 while the kill switch is engaged",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_realized_pnl",
			Help:      "Realized P&L accumulated since the last daily reset (INR)",
		}),
		ledgerFills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "paper",
				Name:      "fills_total",
				Help:      "Simulated fills by side",
			},
			[]string{"side"},
		),
		ledgerReject: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "paper",
				Name:      "rejections_total",
				Help:      "Simulated order rejections by reason",
			},
			[]string{"reason"},
		),
		ledgerCash: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "paper",
			Name:      "cash",
			Help:      "Simulated cash balance (INR)",
		}),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Orders routed through a session by broker and status",
			},
			[]string{"broker", "status"},
		),
	}

	r.reg.MustRegister(
		r.riskChecks,
		r.killSwitch,
		r.dailyPnL,
		r.ledgerFills,
		r.ledgerReject,
		r.ledgerCash,
		r.orders,
	)

	return r
}

// Handler returns an HTTP handler serving this registry in the text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for embedding callers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// RiskCheck counts one risk decision.
func (r *Registry) RiskCheck(check string, allowed bool) {
	if r == nil {
		return
	}
	result := "rejected"
	if allowed {
		result = "allowed"
	}
	r.riskChecks.WithLabelValues(check, result).Inc()
}

// SetKillSwitch mirrors the kill switch state.
func (r *Registry) SetKillSwitch(active bool) {
	if r == nil {
		return
	}
	if active {
		r.killSwitch.Set(1)
	} else {
		r.killSwitch.Set(0)
	}
}

// SetDailyPnL mirrors the realized daily P&L.
func (r *Registry) SetDailyPnL(pnl float64) {
	if r == nil {
		return
	}
	r.dailyPnL.Set(pnl)
}

// Fill counts a simulated fill.
func (r *Registry) Fill(side string) {
	if r == nil {
		return
	}
	r.ledgerFills.WithLabelValues(side).Inc()
}

// Rejection counts a simulated rejection.
func (r *Registry) Rejection(reason string) {
	if r == nil {
		return
	}
	r.ledgerReject.WithLabelValues(reason).Inc()
}

// SetCash mirrors the simulated cash balance.
func (r *Registry) SetCash(cash float64) {
	if r == nil {
		return
	}
	r.ledgerCash.Set(cash)
}

// Order counts an order outcome seen by a session.
func (r *Registry) Order(broker, status string) {
	if r == nil {
		return
	}
	r.orders.WithLabelValues(broker, status).Inc()
}
