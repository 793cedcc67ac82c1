package optim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/san-kum/pidtune/internal/pid"
	"github.com/san-kum/pidtune/internal/plant"
)

// Process exposes the plant behind an objective. The open-loop rules need it
// to run their identification experiment; fitness.Evaluator implements it.
type Process interface {
	Plant() plant.Plant
	Grid() []float64
	Setpoint() float64
}

// Identification is the first-order-plus-dead-time fit of an open-loop step
// response: static gain K, apparent dead time L and time constant T.
type Identification struct {
	K float64 `json:"k"`
	L float64 `json:"l"`
	T float64 `json:"t"`
}

// Identify applies a step of the given amplitude to p and reads K, L and T
// off the response. L is the first time the rise exceeds threshold of its
// maximum; T runs from L to the sample closest to 63.2% of the rise.
func Identify(p plant.Plant, grid []float64, amplitude, threshold float64) (Identification, error) {
	if amplitude == 0 {
		return Identification{}, fmt.Errorf("%w: zero step amplitude", ErrIdentify)
	}
	y, err := p.OpenLoop(grid, amplitude)
	if err != nil {
		return Identification{}, fmt.Errorf("%w: %w", ErrIdentify, err)
	}

	y0 := y[0]
	maxDelta := math.Inf(-1)
	for _, v := range y {
		maxDelta = math.Max(maxDelta, v-y0)
	}
	if !(maxDelta > 0) {
		return Identification{}, fmt.Errorf("%w: response never rises", ErrIdentify)
	}

	idxL := -1
	for i, v := range y {
		if v-y0 > threshold*maxDelta {
			idxL = i
			break
		}
	}
	target := y0 + 0.632*maxDelta
	idxT := 0
	for i, v := range y {
		if math.Abs(v-target) < math.Abs(y[idxT]-target) {
			idxT = i
		}
	}

	id := Identification{
		K: (y[len(y)-1] - y0) / amplitude,
		L: grid[idxL],
	}
	id.T = grid[idxT] - id.L
	if !(id.L > 0) || !(id.T > 0) {
		return id, fmt.Errorf("%w: degenerate fit K=%g L=%g T=%g", ErrIdentify, id.K, id.L, id.T)
	}
	return id, nil
}

// ZieglerNichols is the open-loop reaction-curve rule.
func ZieglerNichols(id Identification) pid.Gains {
	kp := 1.2 * id.T / (id.K * id.L)
	ti := 2 * id.L
	td := 0.5 * id.L
	return pid.New(kp, kp/ti, kp*td)
}

func CohenCoon(id Identification) pid.Gains {
	r := id.L / id.T
	kp := (1 / id.K) * (id.T / id.L) * (1 + 0.35*r)
	ti := id.L * (30 + 3*r) / (9 + 20*r)
	td := 8 * id.L / (100 + 3*r)
	return pid.New(kp, kp/ti, kp*td)
}

// classical wraps ZN and CC. The gains come straight from the rule and are
// reported without clamping to the search box.
type classical struct {
	method Method
	cfg    ClassicalConfig
	logger *slog.Logger
}

func (c *classical) Method() Method { return c.method }

func (c *classical) Optimize(ctx context.Context, prob Problem, _ *rand.Rand, obs Observer) (Result, error) {
	if prob.Objective == nil {
		return Result{}, fmt.Errorf("%w: nil objective", ErrInvalidConfig)
	}
	proc, ok := prob.Objective.(Process)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", c.method, ErrNoProcess)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	id, err := Identify(proc.Plant(), proc.Grid(), proc.Setpoint(), c.cfg.Threshold)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", c.method, err)
	}

	var g pid.Gains
	if c.method == CC {
		g = CohenCoon(id)
	} else {
		g = ZieglerNichols(id)
	}

	tr := newTracker(c.method, obs)
	cost := tr.eval(prob.Objective, g)
	tr.record(0, []float64{cost})

	c.logger.Debug("classical rule applied", "method", c.method, "k", id.K, "l", id.L, "t", id.T, "gains", g.String(), "cost", cost)
	return tr.result(), nil
}
