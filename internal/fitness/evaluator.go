// Package fitness scores PID gains by the mean squared error of the
// closed-loop step response. Failed simulations score Penalty instead of
// returning an error, so optimizers never have to branch on failure.
package fitness

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/pidtune/internal/metrics"
	"github.com/san-kum/pidtune/internal/pid"
	"github.com/san-kum/pidtune/internal/plant"
)

// Penalty is the cost assigned to any gains whose simulation fails.
const Penalty = 1e6

// Evaluator is bound to one plant, time grid and setpoint. It holds no
// mutable state besides its diagnostic counters and is safe for concurrent use.
type Evaluator struct {
	plant    plant.Plant
	grid     []float64
	setpoint float64
	solver   plant.Solver
	diag     *Diagnostics
	logger   *slog.Logger
}

type Option func(*Evaluator)

func WithSolver(s plant.Solver) Option {
	return func(e *Evaluator) { e.solver = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDiagnostics shares counters between evaluators, e.g. across the
// perturbed plants of a robustness sweep.
func WithDiagnostics(d *Diagnostics) Option {
	return func(e *Evaluator) {
		if d != nil {
			e.diag = d
		}
	}
}

func New(p plant.Plant, grid []float64, setpoint float64, opts ...Option) (*Evaluator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := plant.ValidateGrid(grid); err != nil {
		return nil, err
	}
	if math.IsNaN(setpoint) || math.IsInf(setpoint, 0) {
		return nil, fmt.Errorf("fitness: setpoint must be finite, got %g", setpoint)
	}

	e := &Evaluator{
		plant:    p,
		grid:     append([]float64(nil), grid...),
		setpoint: setpoint,
		solver:   plant.SolverExact,
		diag:     &Diagnostics{},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := plant.ParseSolver(string(e.solver)); err != nil {
		return nil, err
	}
	return e, nil
}

// WithPlant returns an evaluator for a different plant sharing this one's
// grid, setpoint, solver, logger and counters.
func (e *Evaluator) WithPlant(p plant.Plant) (*Evaluator, error) {
	return New(p, e.grid, e.setpoint,
		WithSolver(e.solver), WithLogger(e.logger), WithDiagnostics(e.diag))
}

func (e *Evaluator) Plant() plant.Plant        { return e.plant }
func (e *Evaluator) Setpoint() float64         { return e.setpoint }
func (e *Evaluator) Diagnostics() *Diagnostics { return e.diag }
func (e *Evaluator) Grid() []float64           { return append([]float64(nil), e.grid...) }

// Evaluate returns the MSE of the step response, or Penalty.
func (e *Evaluator) Evaluate(g pid.Gains) float64 {
	e.diag.observe()

	_, y, err := e.Response(g)
	if err != nil {
		r := classify(err)
		e.diag.penalize(r)
		e.logger.Debug("penalized evaluation", "gains", g.String(), "reason", r.String(), "err", err)
		return Penalty
	}

	mse := metrics.MSE(y, e.setpoint)
	if math.IsNaN(mse) || math.IsInf(mse, 0) {
		e.diag.penalize(ReasonNonFinite)
		e.logger.Debug("penalized evaluation", "gains", g.String(), "reason", ReasonNonFinite.String())
		return Penalty
	}
	return mse
}

// Response simulates g and returns the sampled output.
func (e *Evaluator) Response(g pid.Gains) ([]float64, []float64, error) {
	return e.plant.SimulateWith(e.solver, g, e.grid, e.setpoint)
}

// Performance simulates g and computes the full index set.
func (e *Evaluator) Performance(g pid.Gains) (metrics.Performance, error) {
	times, y, err := e.Response(g)
	if err != nil {
		return metrics.Performance{}, err
	}
	return metrics.Evaluate(e.plant, g, times, y, e.setpoint), nil
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, plant.ErrNonPhysical):
		return ReasonNonPhysical
	case errors.Is(err, plant.ErrUnstable):
		return ReasonUnstable
	case errors.Is(err, plant.ErrInvalidGrid):
		return ReasonInvalidGrid
	default:
		return ReasonOther
	}
}
