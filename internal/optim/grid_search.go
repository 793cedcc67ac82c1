package optim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/san-kum/pidtune/internal/pid"
)

// gridSearch exhaustively scores an evenly spaced lattice over the box. Each
// Kp level counts as one generation.
type gridSearch struct {
	cfg    GridConfig
	logger *slog.Logger
}

func (g *gridSearch) Method() Method { return GRID }

func (g *gridSearch) Optimize(ctx context.Context, prob Problem, _ *rand.Rand, obs Observer) (Result, error) {
	if err := prob.Validate(); err != nil {
		return Result{}, err
	}
	levels := g.levels(prob.Bounds)
	tr := newTracker(GRID, obs)

	for i, kp := range levels[pid.IdxKp] {
		select {
		case <-ctx.Done():
			return tr.result(), fmt.Errorf("GRID stopped at level %d: %w", i+1, ctx.Err())
		default:
		}

		var current pid.Gains
		current[pid.IdxKp] = kp
		costs := make([]float64, 0, len(levels[pid.IdxKi])*len(levels[pid.IdxKd]))
		g.searchRecursive(pid.IdxKi, current, levels, prob.Objective, tr, &costs)
		tr.record(i+1, costs)
	}

	res := tr.result()
	g.logger.Debug("optimizer finished", "method", GRID, "cost", res.Cost, "gains", res.Gains.String(), "evaluations", res.Evaluations)
	return res, nil
}

func (g *gridSearch) levels(b pid.Bounds) [pid.Dim][]float64 {
	var out [pid.Dim][]float64
	for d := range out {
		out[d] = make([]float64, g.cfg.Steps)
		span := b.Upper[d] - b.Lower[d]
		for k := range out[d] {
			out[d][k] = b.Lower[d] + span*float64(k)/float64(g.cfg.Steps-1)
		}
		out[d][g.cfg.Steps-1] = b.Upper[d]
	}
	return out
}

func (g *gridSearch) searchRecursive(
	depth int,
	current pid.Gains,
	levels [pid.Dim][]float64,
	obj Objective,
	tr *tracker,
	costs *[]float64,
) {
	if depth == pid.Dim {
		*costs = append(*costs, tr.eval(obj, current))
		return
	}
	for _, v := range levels[depth] {
		current[depth] = v
		g.searchRecursive(depth+1, current, levels, obj, tr, costs)
	}
}
