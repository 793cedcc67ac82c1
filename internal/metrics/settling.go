package metrics

import "math"

// DefaultBand is the 2% settling band.
const DefaultBand = 0.02

// Settling reports the time of the first sample inside the band
// |y - setpoint| <= band*|setpoint|. If no sample enters the band it reports
// the last observed time.
type Settling struct {
	name     string
	setpoint float64
	band     float64
	entered  bool
	at       float64
	last     float64
}

func NewSettling(setpoint, band float64) *Settling {
	return &Settling{
		name:     "settling_time",
		setpoint: setpoint,
		band:     band,
	}
}

func (s *Settling) Name() string {
	return s.name
}

func (s *Settling) Observe(t, y float64) {
	s.last = t
	if s.entered {
		return
	}
	if math.Abs(y-s.setpoint) <= s.band*math.Abs(s.setpoint) {
		s.entered = true
		s.at = t
	}
}

func (s *Settling) Value() float64 {
	if s.entered {
		return s.at
	}
	return s.last
}

func (s *Settling) Reset() {
	s.entered = false
	s.at = 0
	s.last = 0
}
