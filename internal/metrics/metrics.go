package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	RollsSubmitted     Counter
	RollsFailed        Counter
	RollsSkipped       Counter
	NoCapacity         Counter
	NoFill             Counter
	ReviewHalts        Counter
	QuotesReceived     Counter
	QuotesRejected     Counter
	SettlementRetries  Counter
	ReconcileTransfers Counter
	ReconcileFailures  Counter
	DegradedAlerts     Counter
	ExpirySettlements  Counter
	DegradedVaults     Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		RollsSubmitted:     n,
		RollsFailed:        n,
		RollsSkipped:       n,
		NoCapacity:         n,
		NoFill:             n,
		ReviewHalts:        n,
		QuotesReceived:     n,
		QuotesRejected:     n,
		SettlementRetries:  n,
		ReconcileTransfers: n,
		ReconcileFailures:  n,
		DegradedAlerts:     n,
		ExpirySettlements:  n,
		DegradedVaults:     noopGauge{},
	}
}

// OrNoop lets components accept a nil *Metrics.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
