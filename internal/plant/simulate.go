package plant

import (
	"fmt"
	"math"

	"github.com/san-kum/pidtune/internal/dynamo"
	"github.com/san-kum/pidtune/internal/integrators"
	"github.com/san-kum/pidtune/internal/pid"
)

// Solver selects how the closed loop is advanced between grid samples.
type Solver string

const (
	// SolverExact uses the zero-order-hold transition matrix, exact for the
	// constant reference.
	SolverExact Solver = "exact"
	// SolverRK4 integrates with fourth-order Runge-Kutta, substepping so the
	// step stays well inside the stability region.
	SolverRK4 Solver = "rk4"
)

func ParseSolver(name string) (Solver, error) {
	switch Solver(name) {
	case "", SolverExact:
		return SolverExact, nil
	case SolverRK4:
		return SolverRK4, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSolver, name)
	}
}

// Simulate returns the closed-loop response to a step of height setpoint
// applied at grid[0], using the exact solver.
func (p Plant) Simulate(g pid.Gains, grid []float64, setpoint float64) ([]float64, []float64, error) {
	return p.SimulateWith(SolverExact, g, grid, setpoint)
}

func (p Plant) SimulateWith(solver Solver, g pid.Gains, grid []float64, setpoint float64) ([]float64, []float64, error) {
	if err := ValidateGrid(grid); err != nil {
		return nil, nil, err
	}
	loop, err := NewClosedLoop(p, g)
	if err != nil {
		return nil, nil, err
	}

	times := make([]float64, len(grid))
	copy(times, grid)

	var outputs []float64
	switch solver {
	case SolverExact, "":
		outputs, err = simulateExact(loop, grid, setpoint)
	case SolverRK4:
		outputs, err = simulateRK4(loop, grid, setpoint)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSolver, solver)
	}
	if err != nil {
		return nil, nil, err
	}
	return times, outputs, nil
}

func simulateExact(loop *ClosedLoop, grid []float64, u float64) ([]float64, error) {
	out := make([]float64, len(grid))
	x0, x1 := 0.0, 0.0
	out[0] = loop.d * u

	lastDt := math.NaN()
	var phi [2][2]float64
	var gamma [2]float64

	for k := 1; k < len(grid); k++ {
		dt := grid[k] - grid[k-1]
		if !(math.Abs(dt-lastDt) <= 1e-12*math.Max(1, dt)) {
			phi, gamma = loop.discretize(dt)
			lastDt = dt
		}

		x0, x1 = phi[0][0]*x0+phi[0][1]*x1+gamma[0]*u, phi[1][0]*x0+phi[1][1]*x1+gamma[1]*u
		y := loop.c0*x0 + loop.c1*x1 + loop.d*u
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, &SimulationError{Step: k, Time: grid[k], Wrapped: ErrUnstable}
		}
		out[k] = y
	}
	return out, nil
}

func simulateRK4(loop *ClosedLoop, grid []float64, u float64) ([]float64, error) {
	integ := integrators.NewRK4()
	ctrl := dynamo.Control{u}
	x := make(dynamo.State, loop.StateDim())

	out := make([]float64, len(grid))
	out[0] = loop.Output(x, u)
	bound := loop.SpectralBound()

	for k := 1; k < len(grid); k++ {
		dt := grid[k] - grid[k-1]
		substeps := int(math.Ceil(2 * dt * bound))
		x = integ.Advance(loop, x, ctrl, grid[k-1], dt, substeps)
		if !x.IsValid() {
			return nil, &SimulationError{Step: k, Time: grid[k], Wrapped: ErrUnstable}
		}
		out[k] = loop.Output(x, u)
	}
	return out, nil
}
