// Package plant models the first-order thermal process K/(tau*s + 1) and
// simulates it in closed loop with a parallel PID controller.
//
// Simulation is a pure function of its inputs: no state survives between
// calls, so one Plant value can be shared by any number of goroutines.
package plant

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/san-kum/pidtune/internal/pid"
)

// Nominal parameters of the electric greenhouse the tuners were built for.
const (
	NominalGain         = 59.81
	NominalTimeConstant = 401.61
	NominalSetpoint     = 80.0
)

// Plant is a first-order lag with static gain Gain (degC/W) and time
// constant TimeConstant (s).
type Plant struct {
	Gain         float64 `yaml:"gain" json:"gain"`
	TimeConstant float64 `yaml:"time_constant" json:"time_constant"`
}

func New(gain, timeConstant float64) (Plant, error) {
	p := Plant{Gain: gain, TimeConstant: timeConstant}
	if err := p.Validate(); err != nil {
		return Plant{}, err
	}
	return p, nil
}

func Nominal() Plant {
	return Plant{Gain: NominalGain, TimeConstant: NominalTimeConstant}
}

func (p Plant) Validate() error {
	if !(p.Gain > 0) || math.IsInf(p.Gain, 0) {
		return fmt.Errorf("%w: gain must be positive and finite, got %g", ErrNonPhysical, p.Gain)
	}
	if !(p.TimeConstant > 0) || math.IsInf(p.TimeConstant, 0) {
		return fmt.Errorf("%w: time constant must be positive and finite, got %g", ErrNonPhysical, p.TimeConstant)
	}
	return nil
}

func (p Plant) String() string {
	return fmt.Sprintf("%.2f/(%.2fs+1)", p.Gain, p.TimeConstant)
}

// OpenLoop returns the plant's response to a step of the given amplitude
// applied at grid[0], sampled on grid.
func (p Plant) OpenLoop(grid []float64, amplitude float64) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateGrid(grid); err != nil {
		return nil, err
	}
	out := make([]float64, len(grid))
	t0 := grid[0]
	for i, t := range grid {
		out[i] = p.Gain * amplitude * -math.Expm1(-(t-t0)/p.TimeConstant)
	}
	return out, nil
}

// LoopResponse evaluates the open-loop frequency response C(jw)G(jw) of the
// PID controller in series with the plant.
func (p Plant) LoopResponse(g pid.Gains, w float64) complex128 {
	jw := complex(0, w)
	c := complex(g.Kp(), 0) + complex(g.Ki(), 0)/jw + complex(g.Kd(), 0)*jw
	plant := complex(p.Gain, 0) / (complex(p.TimeConstant, 0)*jw + 1)
	return c * plant
}

// Phase returns the principal phase of LoopResponse in degrees, in (-180, 180].
func (p Plant) Phase(g pid.Gains, w float64) float64 {
	return cmplx.Phase(p.LoopResponse(g, w)) * 180 / math.Pi
}
