package metrics

type SquaredError struct {
	name     string
	setpoint float64
	sum      float64
	samples  int
}

func NewSquaredError(setpoint float64) *SquaredError {
	return &SquaredError{
		name:     "mse",
		setpoint: setpoint,
	}
}

func (s *SquaredError) Name() string {
	return s.name
}

func (s *SquaredError) Observe(t, y float64) {
	e := y - s.setpoint
	s.sum += e * e
	s.samples++
}

func (s *SquaredError) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.sum / float64(s.samples)
}

func (s *SquaredError) Reset() {
	s.sum = 0
	s.samples = 0
}

// MSE is the mean squared deviation of y from setpoint.
func MSE(y []float64, setpoint float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for _, v := range y {
		e := v - setpoint
		sum += e * e
	}
	return sum / float64(len(y))
}
