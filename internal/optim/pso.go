package optim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/san-kum/pidtune/internal/pid"
)

// particleSwarm is global-best PSO with constant inertia. Velocities are not
// clamped; only positions are.
type particleSwarm struct {
	cfg    PSOConfig
	logger *slog.Logger
}

func (ps *particleSwarm) Method() Method { return PSO }

func (ps *particleSwarm) Optimize(ctx context.Context, prob Problem, rng *rand.Rand, obs Observer) (Result, error) {
	if err := prob.Validate(); err != nil {
		return Result{}, err
	}
	n := ps.cfg.Particles
	b := prob.Bounds
	w, c1, c2 := ps.cfg.Inertia, ps.cfg.Cognitive, ps.cfg.Social
	tr := newTracker(PSO, obs)

	x := make([]pid.Gains, n)
	v := make([]pid.Gains, n)
	pbest := make([]pid.Gains, n)
	pbestCost := make([]float64, n)
	costs := make([]float64, n)

	for i := range x {
		x[i] = b.Sample(rng)
		costs[i] = tr.eval(prob.Objective, x[i])
		pbest[i] = x[i]
		pbestCost[i] = costs[i]
	}
	tr.record(0, costs)

	for it := 1; it <= ps.cfg.Iterations; it++ {
		select {
		case <-ctx.Done():
			return tr.result(), fmt.Errorf("PSO stopped at iteration %d: %w", it, ctx.Err())
		default:
		}

		for i := range x {
			gbest := tr.best
			for d := 0; d < pid.Dim; d++ {
				r1, r2 := rng.Float64(), rng.Float64()
				v[i][d] = w*v[i][d] + c1*r1*(pbest[i][d]-x[i][d]) + c2*r2*(gbest[d]-x[i][d])
				x[i][d] += v[i][d]
			}
			x[i] = b.Clamp(x[i])

			costs[i] = tr.eval(prob.Objective, x[i])
			if costs[i] < pbestCost[i] {
				pbestCost[i] = costs[i]
				pbest[i] = x[i]
			}
		}
		tr.record(it, costs)
	}

	res := tr.result()
	ps.logger.Debug("optimizer finished", "method", PSO, "cost", res.Cost, "gains", res.Gains.String(), "evaluations", res.Evaluations)
	return res, nil
}
