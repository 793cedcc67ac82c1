package optim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/san-kum/pidtune/internal/pid"
)

// geneticAlgorithm is a real-coded generational GA: roulette selection,
// arithmetic crossover of consecutive parents, uniform-reset mutation and no
// elitism. The best point ever evaluated is tracked outside the population.
type geneticAlgorithm struct {
	cfg    GAConfig
	logger *slog.Logger
}

func (ga *geneticAlgorithm) Method() Method { return GA }

func (ga *geneticAlgorithm) Optimize(ctx context.Context, prob Problem, rng *rand.Rand, obs Observer) (Result, error) {
	if err := prob.Validate(); err != nil {
		return Result{}, err
	}
	n := ga.cfg.Population
	b := prob.Bounds
	tr := newTracker(GA, obs)

	pop := make([]pid.Gains, n)
	for i := range pop {
		pop[i] = b.Sample(rng)
	}
	costs := make([]float64, n)
	parents := make([]pid.Gains, n)
	cum := make([]float64, n)

	for gen := 0; gen < ga.cfg.Generations; gen++ {
		select {
		case <-ctx.Done():
			return tr.result(), fmt.Errorf("GA stopped at generation %d: %w", gen, ctx.Err())
		default:
		}

		worst := 0.0
		for i, g := range pop {
			costs[i] = tr.eval(prob.Objective, g)
			if i == 0 || costs[i] > worst {
				worst = costs[i]
			}
		}
		tr.record(gen, costs)

		// Fitness is -cost; shifting by its minimum gives worst - cost.
		total := 0.0
		for i, c := range costs {
			total += (worst - c) + ga.cfg.SelectionFloor
			cum[i] = total
		}
		for i := range parents {
			r := rng.Float64() * total
			k := sort.SearchFloat64s(cum, r)
			if k >= n {
				k = n - 1
			}
			parents[i] = pop[k]
		}

		children := make([]pid.Gains, 0, n+1)
		for i := 0; i < n; i += 2 {
			p1, p2 := parents[i], parents[(i+1)%n]
			alpha := rng.Float64()
			var c1, c2 pid.Gains
			for d := range c1 {
				c1[d] = alpha*p1[d] + (1-alpha)*p2[d]
				c2[d] = (1-alpha)*p1[d] + alpha*p2[d]
			}
			children = append(children, c1, c2)
		}
		children = children[:n]

		for i := range children {
			for d := range children[i] {
				if rng.Float64() < ga.cfg.MutationRate {
					children[i][d] = b.SampleAxis(rng, d)
				}
			}
			children[i] = b.Clamp(children[i])
		}
		pop = children
	}

	// The last offspring were never scored; they can still hold the best point.
	// Their closing stat keeps the final history entry in step with Result.Cost.
	for i, g := range pop {
		costs[i] = tr.eval(prob.Objective, g)
	}
	tr.record(ga.cfg.Generations, costs)

	res := tr.result()
	ga.logger.Debug("optimizer finished", "method", GA, "cost", res.Cost, "gains", res.Gains.String(), "evaluations", res.Evaluations)
	return res, nil
}
