package plant

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/pidtune/internal/dynamo"
	"github.com/san-kum/pidtune/internal/pid"
)

// ClosedLoop is the controllable canonical realisation of
//
//	T(s) = K(Kd s^2 + Kp s + Ki) / ((tau + K Kd) s^2 + (1 + K Kp) s + K Ki)
//
// normalised to T(s) = d + (c1 s + c0) / (s^2 + a1 s + a0). The reference is
// the single input; the plant output is y = c0 x0 + c1 x1 + d u.
type ClosedLoop struct {
	a0, a1 float64
	c0, c1 float64
	d      float64
}

func NewClosedLoop(p Plant, g pid.Gains) (*ClosedLoop, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !g.IsValid() {
		return nil, fmt.Errorf("%w: gains %v are not finite", ErrNonPhysical, g)
	}

	k, tau := p.Gain, p.TimeConstant
	lead := tau + k*g.Kd()
	if !(lead > 0) {
		return nil, fmt.Errorf("%w: improper closed loop (tau + K*Kd = %g)", ErrNonPhysical, lead)
	}

	a1 := (1 + k*g.Kp()) / lead
	a0 := k * g.Ki() / lead
	b2 := k * g.Kd() / lead
	b1 := k * g.Kp() / lead
	b0 := k * g.Ki() / lead

	return &ClosedLoop{
		a0: a0,
		a1: a1,
		c0: b0 - b2*a0,
		c1: b1 - b2*a1,
		d:  b2,
	}, nil
}

func (c *ClosedLoop) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{x[1], -c.a0*x[0] - c.a1*x[1] + u[0]}
}

func (c *ClosedLoop) StateDim() int { return 2 }

func (c *ClosedLoop) Output(x dynamo.State, u float64) float64 {
	return c.c0*x[0] + c.c1*x[1] + c.d*u
}

// SpectralBound is the infinity norm of the state matrix, an upper bound on
// the magnitude of every closed-loop pole.
func (c *ClosedLoop) SpectralBound() float64 {
	return math.Max(1, math.Abs(c.a0)+math.Abs(c.a1))
}

// Poles returns the closed-loop poles as complex numbers.
func (c *ClosedLoop) Poles() [2]complex128 {
	disc := c.a1*c.a1 - 4*c.a0
	if disc >= 0 {
		r := math.Sqrt(disc)
		return [2]complex128{complex((-c.a1+r)/2, 0), complex((-c.a1-r)/2, 0)}
	}
	im := math.Sqrt(-disc) / 2
	return [2]complex128{complex(-c.a1/2, im), complex(-c.a1/2, -im)}
}

// discretize returns the zero-order-hold transition pair (Phi, Gamma) for a
// sample interval dt, from the exponential of the augmented matrix
// [[A, B], [0, 0]] * dt. It stays valid when A is singular (Ki = 0).
func (c *ClosedLoop) discretize(dt float64) (phi [2][2]float64, gamma [2]float64) {
	aug := mat.NewDense(3, 3, []float64{
		0, dt, 0,
		-c.a0 * dt, -c.a1 * dt, dt,
		0, 0, 0,
	})
	var e mat.Dense
	e.Exp(aug)

	phi = [2][2]float64{
		{e.At(0, 0), e.At(0, 1)},
		{e.At(1, 0), e.At(1, 1)},
	}
	gamma = [2]float64{e.At(0, 2), e.At(1, 2)}
	return phi, gamma
}
