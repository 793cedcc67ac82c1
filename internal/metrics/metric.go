// Package metrics computes step-response performance indices and stability
// margins for a tuned loop.
//
// Time-domain indices are streaming accumulators: feed samples with Observe,
// read with Value, and Reset to reuse.
package metrics

// Metric accumulates one scalar index over a sampled response.
type Metric interface {
	Name() string
	Observe(t, y float64)
	Value() float64
	Reset()
}

// Performance is the full index set stored with every tuned result.
type Performance struct {
	MSE          float64 `json:"mse"`
	Overshoot    float64 `json:"overshoot"`
	SettlingTime float64 `json:"settling_time"`
	GainMargin   float64 `json:"gain_margin"`
	PhaseMargin  float64 `json:"phase_margin"`
}

// Observe feeds every sample of a response to each metric in order.
func Observe(times, y []float64, ms ...Metric) {
	for i, t := range times {
		for _, m := range ms {
			m.Observe(t, y[i])
		}
	}
}

// StepIndices returns MSE, overshoot and 2% settling time of a response.
func StepIndices(times, y []float64, setpoint float64) (mse, overshoot, settling float64) {
	se := NewSquaredError(setpoint)
	os := NewOvershoot(setpoint)
	st := NewSettling(setpoint, DefaultBand)
	Observe(times, y, se, os, st)
	return se.Value(), os.Value(), st.Value()
}
