package optim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/pidtune/internal/pid"
)

const (
	choleskyJitter   = 1e-12
	choleskyAttempts = 10
)

// cmaES is (mu/mu_w, lambda)-CMA-ES with cumulative step-size adaptation.
// Candidates are clamped into the box after sampling; the distribution itself
// is unconstrained.
type cmaES struct {
	cfg    CMAESConfig
	logger *slog.Logger
}

func (c *cmaES) Method() Method { return CMAES }

func (c *cmaES) Optimize(ctx context.Context, prob Problem, rng *rand.Rand, obs Observer) (Result, error) {
	if err := prob.Validate(); err != nil {
		return Result{}, err
	}
	st := newCMAState(c.cfg, prob.Bounds, c.logger)
	tr := newTracker(CMAES, obs)

	for gen := 1; gen <= c.cfg.Generations; gen++ {
		select {
		case <-ctx.Done():
			return tr.result(), fmt.Errorf("CMA-ES stopped at generation %d: %w", gen, ctx.Err())
		default:
		}
		costs := st.step(prob.Objective, rng, tr)
		tr.record(gen, costs)
	}

	res := tr.result()
	c.logger.Debug("optimizer finished", "method", CMAES, "cost", res.Cost, "gains", res.Gains.String(),
		"evaluations", res.Evaluations, "sigma", st.sigma, "repairs", st.repairs)
	return res, nil
}

// cmaState is the adaptation state carried across generations.
type cmaState struct {
	n      int
	lambda int
	mu     int
	bounds pid.Bounds
	logger *slog.Logger

	weights []float64
	muEff   float64
	cc      float64
	c1      float64
	cmu     float64
	cs      float64
	ds      float64
	chiN    float64

	mean   *mat.VecDense
	sigma  float64
	sigma0 float64
	cov    *mat.SymDense
	pc     *mat.VecDense
	ps     *mat.VecDense

	gen     int
	repairs int
}

func newCMAState(cfg CMAESConfig, b pid.Bounds, logger *slog.Logger) *cmaState {
	n := pid.Dim
	fn := float64(n)
	lambda := cfg.Lambda
	if lambda == 0 {
		lambda = 4 + int(math.Floor(3*math.Log(fn)))
	}
	mu := lambda / 2

	weights := make([]float64, mu)
	var sum float64
	for i := range weights {
		weights[i] = math.Log(float64(mu)+0.5) - math.Log(float64(i+1))
		sum += weights[i]
	}
	var sumSq float64
	for i := range weights {
		weights[i] /= sum
		sumSq += weights[i] * weights[i]
	}
	muEff := 1 / sumSq

	c1 := 2 / ((fn+1.3)*(fn+1.3) + muEff)
	cs := (muEff + 2) / (fn + muEff + 5)

	mid := b.Mid()
	return &cmaState{
		n:       n,
		lambda:  lambda,
		mu:      mu,
		bounds:  b,
		logger:  logger,
		weights: weights,
		muEff:   muEff,
		cc:      (4 + muEff/fn) / (fn + 4 + 2*muEff/fn),
		c1:      c1,
		cmu:     math.Min(1-c1, 2*(muEff-2+1/muEff)/((fn+2)*(fn+2)+muEff)),
		cs:      cs,
		ds:      1 + 2*math.Max(0, math.Sqrt((muEff-1)/(fn+1))-1) + cs,
		chiN:    math.Sqrt(fn) * (1 - 1/(4*fn) + 1/(21*fn*fn)),
		mean:    mat.NewVecDense(n, mid[:]),
		sigma:   cfg.Sigma0,
		sigma0:  cfg.Sigma0,
		cov:     identity(n),
		pc:      mat.NewVecDense(n, nil),
		ps:      mat.NewVecDense(n, nil),
	}
}

func identity(n int) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, 1)
	}
	return s
}

// step runs one generation and returns the offspring costs.
func (s *cmaState) step(obj Objective, rng *rand.Rand, tr *tracker) []float64 {
	s.gen++
	a := s.factor()

	xs := make([]*mat.VecDense, s.lambda)
	costs := make([]float64, s.lambda)
	z := mat.NewVecDense(s.n, nil)
	for k := range xs {
		for i := 0; i < s.n; i++ {
			z.SetVec(i, rng.NormFloat64())
		}
		x := mat.NewVecDense(s.n, nil)
		x.MulVec(a, z)
		x.AddScaledVec(s.mean, s.sigma, x)

		var g pid.Gains
		for i := range g {
			g[i] = x.AtVec(i)
		}
		g = s.bounds.Clamp(g)
		for i := range g {
			x.SetVec(i, g[i])
		}
		xs[k] = x
		costs[k] = tr.eval(obj, g)
	}

	order := make([]int, s.lambda)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return costs[order[i]] < costs[order[j]] })

	oldMean := mat.VecDenseCopyOf(s.mean)
	s.mean.Zero()
	for i := 0; i < s.mu; i++ {
		s.mean.AddScaledVec(s.mean, s.weights[i], xs[order[i]])
	}

	// y is the mean shift in units of the pre-update step size.
	oldSigma := s.sigma
	y := mat.NewVecDense(s.n, nil)
	y.SubVec(s.mean, oldMean)
	y.ScaleVec(1/oldSigma, y)

	var u mat.VecDense
	if err := u.SolveVec(a, y); err != nil {
		s.logger.Warn("cma-es: triangular solve failed, skipping path update", "generation", s.gen, "err", err)
		u.CloneFromVec(mat.NewVecDense(s.n, nil))
	}
	s.ps.ScaleVec(1-s.cs, s.ps)
	s.ps.AddScaledVec(s.ps, math.Sqrt(s.cs*(2-s.cs)*s.muEff), &u)

	normPs := mat.Norm(s.ps, 2)
	s.sigma *= math.Exp((s.cs / s.ds) * (normPs/s.chiN - 1))
	if math.IsNaN(s.sigma) || math.IsInf(s.sigma, 0) || s.sigma <= 0 {
		s.logger.Warn("cma-es: step size degenerated, resetting", "generation", s.gen, "sigma", s.sigma)
		s.sigma = s.sigma0
	}

	hsig := normPs/math.Sqrt(1-math.Pow(1-s.cs, float64(2*s.gen))) < (1.4+2/float64(s.n+1))*s.chiN
	s.pc.ScaleVec(1-s.cc, s.pc)
	if hsig {
		s.pc.AddScaledVec(s.pc, math.Sqrt(s.cc*(2-s.cc)*s.muEff), y)
	}

	next := mat.NewSymDense(s.n, nil)
	next.ScaleSym(1-s.c1-s.cmu, s.cov)
	next.SymRankOne(next, s.c1, s.pc)
	yi := mat.NewVecDense(s.n, nil)
	for i := 0; i < s.mu; i++ {
		yi.SubVec(xs[order[i]], oldMean)
		yi.ScaleVec(1/oldSigma, yi)
		next.SymRankOne(next, s.cmu*s.weights[i], yi)
	}
	s.cov = next

	return costs
}

// factor returns the lower Cholesky factor of the covariance, repairing the
// covariance first when it is not numerically positive definite.
func (s *cmaState) factor() *mat.TriDense {
	var chol mat.Cholesky
	if s.finite() && chol.Factorize(s.cov) {
		var l mat.TriDense
		chol.LTo(&l)
		return &l
	}

	if s.finite() {
		scale := 1.0
		for i := 0; i < s.n; i++ {
			scale = math.Max(scale, math.Abs(s.cov.At(i, i)))
		}
		jitter := choleskyJitter * scale
		for try := 0; try < choleskyAttempts; try++ {
			repaired := mat.NewSymDense(s.n, nil)
			repaired.CopySym(s.cov)
			for i := 0; i < s.n; i++ {
				repaired.SetSym(i, i, repaired.At(i, i)+jitter)
			}
			if chol.Factorize(repaired) {
				s.cov = repaired
				s.repairs++
				s.logger.Warn("cma-es: covariance regularised", "generation", s.gen, "jitter", jitter)
				var l mat.TriDense
				chol.LTo(&l)
				return &l
			}
			jitter *= 10
		}
	}

	s.cov = identity(s.n)
	s.repairs++
	s.logger.Warn("cma-es: covariance reset to identity", "generation", s.gen)
	chol.Factorize(s.cov)
	var l mat.TriDense
	chol.LTo(&l)
	return &l
}

func (s *cmaState) finite() bool {
	for i := 0; i < s.n; i++ {
		for j := i; j < s.n; j++ {
			v := s.cov.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
