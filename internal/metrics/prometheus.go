package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "funding_carry_bot"

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
	p.Metrics = &Metrics{
		PositionsOpened:     p.counter("positions_opened_total", "Total number of hedged positions opened."),
		PositionsClosed:     p.counter("positions_closed_total", "Total number of hedged positions closed with orders."),
		PositionsReconciled: p.counter("positions_reconciled_total", "Total number of ledger entries dropped because the venue was already flat."),
		EntryFailed:         p.counter("entry_failed_total", "Total number of entry flow failures."),
		ExitFailed:          p.counter("exit_failed_total", "Total number of exit flow failures."),
		Unwinds:             p.counter("unwinds_total", "Total number of compensating unwinds after a failed entry."),
		CycleErrors:         p.counter("cycle_errors_total", "Total number of failed control loop cycles."),
		OrdersPlaced:        p.counter("orders_placed_total", "Total number of orders placed."),
		OrdersFailed:        p.counter("orders_failed_total", "Total number of order placement failures."),
		OpenPositions:       p.gauge("open_positions", "Number of positions in the ledger."),
		Drawdown:            p.gauge("drawdown", "Fractional drawdown from the initial balance."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return c
}

func (p *Prometheus) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(g)
	p.gauges[name] = g
	return g
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
