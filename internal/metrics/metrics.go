package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	PositionsOpened     Counter
	PositionsClosed     Counter
	PositionsReconciled Counter
	EntryFailed         Counter
	ExitFailed          Counter
	Unwinds             Counter
	CycleErrors         Counter
	OrdersPlaced        Counter
	OrdersFailed        Counter

	OpenPositions Gauge
	Drawdown      Gauge
}

type noop struct{}

func (noop) Inc() {}

func (noop) Set(float64) {}

func NewNoop() *Metrics {
	n := noop{}
	return &Metrics{
		PositionsOpened:     n,
		PositionsClosed:     n,
		PositionsReconciled: n,
		EntryFailed:         n,
		ExitFailed:          n,
		Unwinds:             n,
		CycleErrors:         n,
		OrdersPlaced:        n,
		OrdersFailed:        n,
		OpenPositions:       n,
		Drawdown:            n,
	}
}
