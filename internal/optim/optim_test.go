package optim

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/pidtune/internal/fitness"
	"github.com/san-kum/pidtune/internal/pid"
	"github.com/san-kum/pidtune/internal/plant"
)

// sphere has its minimum at target.
func sphere(target pid.Gains) ObjectiveFunc {
	return func(g pid.Gains) float64 {
		var s float64
		for i := range g {
			d := g[i] - target[i]
			s += d * d
		}
		return s
	}
}

// boxCheck records every evaluated point that falls outside b.
type boxCheck struct {
	mu      sync.Mutex
	inner   Objective
	bounds  pid.Bounds
	outside []pid.Gains
	calls   int
}

func (c *boxCheck) Evaluate(g pid.Gains) float64 {
	c.mu.Lock()
	c.calls++
	if !c.bounds.Contains(g) {
		c.outside = append(c.outside, g)
	}
	c.mu.Unlock()
	return c.inner.Evaluate(g)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func smallSettings() Settings {
	s := DefaultSettings()
	s.GA.Generations = 30
	s.PSO.Iterations = 30
	s.DE.Generations = 30
	s.CMAES.Generations = 30
	s.Grid.Steps = 5
	return s
}

var stochastic = []Method{GA, PSO, DE, CMAES}

func TestParseMethod(t *testing.T) {
	for _, m := range AllMethods() {
		got, err := ParseMethod(m.String())
		if err != nil || got != m {
			t.Errorf("round trip of %v gave %v, %v", m, got, err)
		}
	}
	if m, err := ParseMethod("cmaes"); err != nil || m != CMAES {
		t.Errorf("expected alias to parse as CMA-ES, got %v, %v", m, err)
	}
	if _, err := ParseMethod("SA"); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		method Method
		mutate func(*Settings)
	}{
		{"ga population", GA, func(s *Settings) { s.GA.Population = 1 }},
		{"ga mutation", GA, func(s *Settings) { s.GA.MutationRate = 1.5 }},
		{"pso particles", PSO, func(s *Settings) { s.PSO.Particles = 0 }},
		{"de population", DE, func(s *Settings) { s.DE.Population = 3 }},
		{"de crossover", DE, func(s *Settings) { s.DE.CR = -0.1 }},
		{"cma sigma", CMAES, func(s *Settings) { s.CMAES.Sigma0 = 0 }},
		{"cma lambda", CMAES, func(s *Settings) { s.CMAES.Lambda = 1 }},
		{"grid steps", GRID, func(s *Settings) { s.Grid.Steps = 1 }},
		{"zn threshold", ZN, func(s *Settings) { s.Classical.Threshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			if _, err := New(tt.method, s); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if err := s.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Settings.Validate: expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	if err := DefaultSettings().Validate(); err != nil {
		t.Errorf("default settings: %v", err)
	}
	if _, err := New(Method(99), DefaultSettings()); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestBestIsMonotone(t *testing.T) {
	b := pid.DefaultBounds()
	prob := Problem{Objective: sphere(pid.New(7, 0.4, 1.2)), Bounds: b}

	for _, m := range append(stochastic, GRID) {
		t.Run(m.String(), func(t *testing.T) {
			opt, err := New(m, smallSettings())
			if err != nil {
				t.Fatal(err)
			}
			res, err := opt.Optimize(context.Background(), prob, rand.New(rand.NewSource(3)), nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(res.History) == 0 {
				t.Fatal("expected generation history")
			}
			for i := 1; i < len(res.History); i++ {
				if res.History[i].Best > res.History[i-1].Best {
					t.Fatalf("best regressed at generation %d: %f -> %f",
						res.History[i].Generation, res.History[i-1].Best, res.History[i].Best)
				}
			}
			last := res.History[len(res.History)-1]
			if res.Cost > last.Best {
				t.Errorf("result cost %f worse than last recorded best %f", res.Cost, last.Best)
			}
			if res.Cost != prob.Objective.Evaluate(res.Gains) {
				t.Errorf("reported cost does not match its gains")
			}
			for _, s := range res.History {
				if s.Best > s.Worst || s.Mean > s.Worst {
					t.Errorf("inconsistent stat %+v", s)
				}
			}
		})
	}
}

func TestCandidatesStayInBounds(t *testing.T) {
	// A narrow box with the optimum outside pushes every method against the walls.
	b := pid.Bounds{Lower: pid.New(1, 0.1, 0.5), Upper: pid.New(2, 0.2, 1)}
	for _, m := range append(stochastic, GRID) {
		t.Run(m.String(), func(t *testing.T) {
			check := &boxCheck{inner: sphere(pid.New(50, -3, 9)), bounds: b}
			opt, err := New(m, smallSettings())
			if err != nil {
				t.Fatal(err)
			}
			res, err := opt.Optimize(context.Background(), Problem{Objective: check, Bounds: b}, rand.New(rand.NewSource(11)), nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(check.outside) > 0 {
				t.Errorf("%d candidates left the box, first %v", len(check.outside), check.outside[0])
			}
			if !b.Contains(res.Gains) {
				t.Errorf("result %v outside bounds", res.Gains)
			}
		})
	}
}

func TestEvaluationBudget(t *testing.T) {
	s := smallSettings()
	prob := Problem{Objective: sphere(pid.New(1, 1, 1)), Bounds: pid.DefaultBounds()}

	lambda := 4 + int(math.Floor(3*math.Log(3)))
	expected := map[Method]int{
		GA:    s.GA.Population*s.GA.Generations + s.GA.Population,
		PSO:   s.PSO.Particles * (s.PSO.Iterations + 1),
		DE:    s.DE.Population * (s.DE.Generations + 1),
		CMAES: lambda * s.CMAES.Generations,
		GRID:  s.Grid.Steps * s.Grid.Steps * s.Grid.Steps,
	}

	for m, want := range expected {
		opt, err := New(m, s)
		if err != nil {
			t.Fatal(err)
		}
		res, err := opt.Optimize(context.Background(), prob, rand.New(rand.NewSource(1)), nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.Evaluations != want {
			t.Errorf("%v: expected %d evaluations, got %d", m, want, res.Evaluations)
		}
	}
}

func TestObserverSeesHistory(t *testing.T) {
	opt, err := New(PSO, smallSettings())
	if err != nil {
		t.Fatal(err)
	}
	rec := &Recorder{}
	prob := Problem{Objective: sphere(pid.New(3, 1, 2)), Bounds: pid.DefaultBounds()}
	res, err := opt.Optimize(context.Background(), prob, rand.New(rand.NewSource(5)), rec)
	if err != nil {
		t.Fatal(err)
	}

	stats := rec.Stats()
	if len(stats) != len(res.History) {
		t.Fatalf("observer saw %d stats, history has %d", len(stats), len(res.History))
	}
	if stats[0].Generation != 0 || stats[len(stats)-1].Generation != 30 {
		t.Errorf("expected generations 0..30, got %d..%d", stats[0].Generation, stats[len(stats)-1].Generation)
	}
}

func TestGAHistoryEndsAtResult(t *testing.T) {
	s := smallSettings()
	opt, err := New(GA, s)
	if err != nil {
		t.Fatal(err)
	}
	prob := Problem{Objective: sphere(pid.New(3, 1, 2)), Bounds: pid.DefaultBounds()}
	for seed := int64(0); seed < 5; seed++ {
		rec := &Recorder{}
		res, err := opt.Optimize(context.Background(), prob, rand.New(rand.NewSource(seed)), rec)
		if err != nil {
			t.Fatal(err)
		}
		stats := rec.Stats()
		if len(stats) != s.GA.Generations+1 {
			t.Fatalf("expected %d stats, got %d", s.GA.Generations+1, len(stats))
		}
		last := stats[len(stats)-1]
		if last.Generation != s.GA.Generations || res.Generations != s.GA.Generations {
			t.Errorf("closing stat at generation %d, result reports %d", last.Generation, res.Generations)
		}
		if last.Best != res.Cost {
			t.Errorf("seed %d: last observed best %f, result cost %f", seed, last.Best, res.Cost)
		}
	}
}

func TestSameSeedSameResult(t *testing.T) {
	prob := Problem{Objective: sphere(pid.New(3, 1, 2)), Bounds: pid.DefaultBounds()}
	for _, m := range stochastic {
		opt, _ := New(m, smallSettings())
		a, _ := opt.Optimize(context.Background(), prob, rand.New(rand.NewSource(42)), nil)
		b, _ := opt.Optimize(context.Background(), prob, rand.New(rand.NewSource(42)), nil)
		if a.Gains != b.Gains || a.Cost != b.Cost {
			t.Errorf("%v: same seed gave %v/%f and %v/%f", m, a.Gains, a.Cost, b.Gains, b.Cost)
		}
	}
}

func TestCancelledRunReturnsBestSoFar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gens := 0
	obs := ObserverFunc(func(s GenerationStat) {
		gens++
		if gens == 5 {
			cancel()
		}
	})

	opt, _ := New(DE, smallSettings())
	prob := Problem{Objective: sphere(pid.New(3, 1, 2)), Bounds: pid.DefaultBounds()}
	res, err := opt.Optimize(ctx, prob, rand.New(rand.NewSource(9)), obs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.History) != 5 {
		t.Errorf("expected 5 recorded generations, got %d", len(res.History))
	}
	if math.IsInf(res.Cost, 1) {
		t.Error("partial result should carry the best point so far")
	}
}

func TestDEImprovesOnInitialPopulation(t *testing.T) {
	if testing.Short() {
		t.Skip("full plant runs")
	}
	p := plant.Nominal()
	eval, err := fitness.New(p, plant.HorizonGrid(p, 2, 1000), plant.NominalSetpoint)
	if err != nil {
		t.Fatal(err)
	}
	opt, err := New(DE, DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	prob := Problem{Objective: eval, Bounds: pid.DefaultBounds()}

	const runs = 40
	improved := 0
	for seed := int64(1); seed <= runs; seed++ {
		res, err := opt.Optimize(context.Background(), prob, rand.New(rand.NewSource(seed)), nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.Cost < res.History[0].Best {
			improved++
		}
	}
	if float64(improved) < 0.95*runs {
		t.Errorf("DE improved on its initial best in only %d of %d runs", improved, runs)
	}
}

func TestCMACovarianceStaysSymmetricPD(t *testing.T) {
	p := plant.Nominal()
	eval, err := fitness.New(p, plant.HorizonGrid(p, 2, 500), plant.NominalSetpoint)
	if err != nil {
		t.Fatal(err)
	}
	st := newCMAState(DefaultCMAESConfig(), pid.DefaultBounds(), discardLogger())
	tr := newTracker(CMAES, nil)
	rng := rand.New(rand.NewSource(7))

	for gen := 1; gen <= 50; gen++ {
		costs := st.step(eval, rng, tr)
		if len(costs) != st.lambda {
			t.Fatalf("generation %d produced %d offspring, expected %d", gen, len(costs), st.lambda)
		}
		// The covariance must factor without repair, and L*L^T must give it back.
		var chol mat.Cholesky
		if !chol.Factorize(st.cov) {
			t.Fatalf("generation %d: covariance not positive definite", gen)
		}
		var l mat.TriDense
		chol.LTo(&l)
		var back mat.Dense
		back.Mul(&l, l.T())
		for i := 0; i < st.n; i++ {
			for j := 0; j < st.n; j++ {
				if d := math.Abs(back.At(i, j) - st.cov.At(i, j)); d > 1e-9 {
					t.Fatalf("generation %d: reconstruction off by %g at (%d,%d)", gen, d, i, j)
				}
			}
			if !(st.cov.At(i, i) > 0) {
				t.Fatalf("generation %d: non-positive variance %g on axis %d", gen, st.cov.At(i, i), i)
			}
		}
		if !(st.sigma > 0) {
			t.Fatalf("generation %d: step size %g", gen, st.sigma)
		}
	}
	if st.repairs != 0 {
		t.Fatalf("covariance needed %d repairs", st.repairs)
	}
}

func TestCMAStrategyParameters(t *testing.T) {
	st := newCMAState(DefaultCMAESConfig(), pid.DefaultBounds(), discardLogger())
	if st.lambda != 7 || st.mu != 3 {
		t.Errorf("expected lambda=7 mu=3 for n=3, got %d %d", st.lambda, st.mu)
	}
	var sum float64
	for i, w := range st.weights {
		sum += w
		if i > 0 && w >= st.weights[i-1] {
			t.Errorf("weights must decrease: %v", st.weights)
		}
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("weights should sum to 1, got %f", sum)
	}
	mid := pid.DefaultBounds().Mid()
	for i := range mid {
		if st.mean.AtVec(i) != mid[i] {
			t.Errorf("initial mean should be the box midpoint, got %v", st.mean.RawVector().Data)
		}
	}
}

func TestCMARepairsBrokenCovariance(t *testing.T) {
	st := newCMAState(DefaultCMAESConfig(), pid.DefaultBounds(), discardLogger())
	st.cov.SetSym(0, 1, 5) // indefinite with unit diagonal
	st.factor()
	if st.repairs == 0 {
		t.Error("expected a repair")
	}
	st.cov.SetSym(2, 2, math.NaN())
	st.factor()
	for i := 0; i < st.n; i++ {
		for j := 0; j < st.n; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if st.cov.At(i, j) != want {
				t.Fatalf("expected identity after reset, got %v at (%d,%d)", st.cov.At(i, j), i, j)
			}
		}
	}
}
