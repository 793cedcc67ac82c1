package optim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/san-kum/pidtune/internal/pid"
)

// differentialEvolution is DE/rand/1/bin with in-place greedy replacement:
// an accepted trial is visible to later targets of the same generation.
type differentialEvolution struct {
	cfg    DEConfig
	logger *slog.Logger
}

func (de *differentialEvolution) Method() Method { return DE }

func (de *differentialEvolution) Optimize(ctx context.Context, prob Problem, rng *rand.Rand, obs Observer) (Result, error) {
	if err := prob.Validate(); err != nil {
		return Result{}, err
	}
	n := de.cfg.Population
	b := prob.Bounds
	tr := newTracker(DE, obs)

	pop := make([]pid.Gains, n)
	costs := make([]float64, n)
	for i := range pop {
		pop[i] = b.Sample(rng)
		costs[i] = tr.eval(prob.Objective, pop[i])
	}
	tr.record(0, costs)

	for gen := 1; gen <= de.cfg.Generations; gen++ {
		select {
		case <-ctx.Done():
			return tr.result(), fmt.Errorf("DE stopped at generation %d: %w", gen, ctx.Err())
		default:
		}

		for i := range pop {
			a, bb, c := donors(rng, n, i)

			var mutant pid.Gains
			for d := range mutant {
				mutant[d] = pop[a][d] + de.cfg.F*(pop[bb][d]-pop[c][d])
			}
			mutant = b.Clamp(mutant)

			trial := pop[i]
			jrand := rng.Intn(pid.Dim)
			for d := range trial {
				if rng.Float64() < de.cfg.CR || d == jrand {
					trial[d] = mutant[d]
				}
			}

			if cost := tr.eval(prob.Objective, trial); cost < costs[i] {
				pop[i] = trial
				costs[i] = cost
			}
		}
		tr.record(gen, costs)
	}

	res := tr.result()
	de.logger.Debug("optimizer finished", "method", DE, "cost", res.Cost, "gains", res.Gains.String(), "evaluations", res.Evaluations)
	return res, nil
}

// donors picks three distinct indices in [0, n), all different from target.
func donors(rng *rand.Rand, n, target int) (int, int, int) {
	var picked [3]int
	for k := 0; k < 3; {
		j := rng.Intn(n - 1)
		if j >= target {
			j++
		}
		dup := false
		for _, p := range picked[:k] {
			if p == j {
				dup = true
				break
			}
		}
		if !dup {
			picked[k] = j
			k++
		}
	}
	return picked[0], picked[1], picked[2]
}
