package metrics

import "math"

// Overshoot is the peak excursion above the setpoint, in percent of the
// setpoint. Responses that never exceed the setpoint score zero.
type Overshoot struct {
	name     string
	setpoint float64
	peak     float64
	samples  int
}

func NewOvershoot(setpoint float64) *Overshoot {
	return &Overshoot{
		name:     "overshoot",
		setpoint: setpoint,
		peak:     math.Inf(-1),
	}
}

func (o *Overshoot) Name() string { return o.name }

func (o *Overshoot) Observe(t, y float64) {
	o.peak = math.Max(o.peak, y)
	o.samples++
}

func (o *Overshoot) Value() float64 {
	if o.samples == 0 || o.setpoint == 0 {
		return 0
	}
	return math.Max(0, (o.peak-o.setpoint)/o.setpoint*100)
}

func (o *Overshoot) Reset() {
	o.peak = math.Inf(-1)
	o.samples = 0
}
