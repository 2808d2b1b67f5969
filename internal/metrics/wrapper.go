package metrics

// Wrapper adapts Metrics to the narrow interface the ml package
// accepts, avoiding a circular import between ml and metrics.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) FitsInc() {
	w.m.FitsTotal.Inc()
}

func (w *Wrapper) FitDurationObserve(seconds float64) {
	w.m.FitDuration.Observe(seconds)
}

func (w *Wrapper) PredictionsInc() {
	w.m.Predictions.Inc()
}

func (w *Wrapper) OutliersInc() {
	w.m.OutliersTotal.Inc()
}
