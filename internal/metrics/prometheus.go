package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "optionsfi_keeper"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	degraded prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry: registry,
		counters: make(map[string]prometheus.Counter),
	}
	counter := func(name, help string) Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		p.counters[name] = c
		return promCounter{c}
	}
	p.degraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "degraded_vaults",
		Help:      "Number of vaults whose pipeline is currently degraded.",
	})
	registry.MustRegister(p.degraded)

	p.Metrics = &Metrics{
		RollsSubmitted:     counter("rolls_submitted_total", "Total number of epoch rolls confirmed on-chain."),
		RollsFailed:        counter("rolls_failed_total", "Total number of roll pipeline failures."),
		RollsSkipped:       counter("rolls_skipped_total", "Total number of ticks skipped because the vault was paused, not due or busy."),
		NoCapacity:         counter("no_capacity_total", "Total number of ticks halted for lack of utilization headroom."),
		NoFill:             counter("no_fill_total", "Total number of auctions that closed without an eligible quote."),
		ReviewHalts:        counter("review_halts_total", "Total number of ticks halted for volatility divergence review."),
		QuotesReceived:     counter("quotes_received_total", "Total number of maker quotes received before the deadline."),
		QuotesRejected:     counter("quotes_rejected_total", "Total number of maker quotes rejected by validation."),
		SettlementRetries:  counter("settlement_retries_total", "Total number of settlement resubmissions."),
		ReconcileTransfers: counter("reconcile_transfers_total", "Total number of corrective premium transfers."),
		ReconcileFailures:  counter("reconcile_failures_total", "Total number of unresolved insolvencies."),
		DegradedAlerts:     counter("degraded_alerts_total", "Total number of degraded pipeline alerts raised."),
		ExpirySettlements:  counter("expiry_settlements_total", "Total number of expired options settled on-chain."),
		DegradedVaults:     promGauge{p.degraded},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
