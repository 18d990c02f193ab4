package metrics

// Wrapper exposes the narrow method set the predictor needs, so the
// predictor package can depend on a small interface instead of Prometheus
// types directly.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) PredictionsInc() {
	w.m.PredictionsTotal.Inc()
}

func (w *Wrapper) PredictionRowsAdd(n float64) {
	w.m.PredictionRows.Add(n)
}

func (w *Wrapper) PredictLatencyObserve(seconds float64) {
	w.m.PredictLatency.Observe(seconds)
}

func (w *Wrapper) ConfidenceObserve(score float64) {
	w.m.ConfidenceScores.Observe(score)
}

func (w *Wrapper) DecodeFailuresInc() {
	w.m.DecodeFailures.Inc()
}

func (w *Wrapper) FitObserve(seconds float64) {
	w.m.FitsTotal.Inc()
	w.m.FitDuration.Observe(seconds)
}

func (w *Wrapper) PartialFitsInc() {
	w.m.PartialFitsTotal.Inc()
}

func (w *Wrapper) PartialFitFailuresInc() {
	w.m.PartialFitFailures.Inc()
}
