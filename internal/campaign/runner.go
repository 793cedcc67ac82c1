// Package campaign runs every configured tuner for a number of iterations,
// persists the outcomes and evaluates the robustness of the latest gains.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/pidtune/internal/config"
	"github.com/san-kum/pidtune/internal/fitness"
	"github.com/san-kum/pidtune/internal/metrics"
	"github.com/san-kum/pidtune/internal/optim"
	"github.com/san-kum/pidtune/internal/pid"
	"github.com/san-kum/pidtune/internal/plant"
	"github.com/san-kum/pidtune/internal/robustness"
	"github.com/san-kum/pidtune/internal/storage"
)

var (
	ErrUnknownMode = errors.New("campaign: unknown mode")
	ErrNoResults   = errors.New("campaign: no tuned results to evaluate")
)

type Mode string

const (
	ModeFull       Mode = "full"
	ModeTune       Mode = "tune"
	ModeRobustness Mode = "robustness"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeFull:
		return ModeFull, nil
	case ModeTune, ModeRobustness:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Summary is what one call to Run produced.
type Summary struct {
	CampaignID string
	Started    time.Time
	Results    []storage.TunedResult
	Failures   int
	Reports    []robustness.Report
	Fitness    fitness.Snapshot
}

type Runner struct {
	cfg        *config.Config
	store      storage.Store
	eval       *fitness.Evaluator
	robust     *robustness.Evaluator
	bounds     pid.Bounds
	settings   optim.Settings
	logger     *slog.Logger
	progress   ProgressFunc
	now        func() time.Time
	newID      func() string
	iterations int
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New validates cfg and wires the evaluator chain. The store must already be
// initialized.
func New(cfg *config.Config, store storage.Store, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:        cfg,
		store:      store,
		bounds:     cfg.PIDBounds(),
		logger:     slog.New(slog.DiscardHandler),
		progress:   func(Event) {},
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		iterations: cfg.Campaign.Iterations,
	}
	for _, opt := range opts {
		opt(r)
	}

	p, err := cfg.PlantModel()
	if err != nil {
		return nil, err
	}
	solver, err := plant.ParseSolver(cfg.Plant.Integrator)
	if err != nil {
		return nil, err
	}
	r.eval, err = fitness.New(p, cfg.TimeGrid(), cfg.Plant.Setpoint,
		fitness.WithSolver(solver), fitness.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	r.robust, err = robustness.New(r.eval, robustness.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	r.settings = cfg.Settings()
	r.settings.Logger = r.logger
	return r, nil
}

func (r *Runner) Evaluator() *fitness.Evaluator { return r.eval }

// Run executes mode. Tuning failures of single runs are logged and counted;
// only cancellation and storage errors abort the campaign.
func (r *Runner) Run(ctx context.Context, mode Mode) (Summary, error) {
	sum := Summary{CampaignID: r.newID(), Started: r.now().UTC()}
	defer r.progress(Event{Kind: EventDone})

	r.logger.Info("campaign started", "campaign", sum.CampaignID, "mode", mode,
		"methods", len(r.cfg.Campaign.Methods), "iterations", r.iterations)

	switch mode {
	case ModeFull, ModeTune, ModeRobustness:
	default:
		return sum, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	if mode == ModeFull || mode == ModeTune {
		results, failures, err := r.Tune(ctx, sum.CampaignID, sum.Started)
		sum.Results, sum.Failures = results, failures
		if err != nil {
			return sum, err
		}
	}
	if mode == ModeFull || mode == ModeRobustness {
		reports, err := r.Robustness(ctx, sum.CampaignID)
		sum.Reports = reports
		if err != nil {
			return sum, err
		}
	}

	sum.Fitness = r.eval.Diagnostics().Snapshot()
	r.logger.Info("campaign finished", "campaign", sum.CampaignID,
		"runs", len(sum.Results), "failures", sum.Failures, "reports", len(sum.Reports),
		"evaluations", sum.Fitness.Evaluations, "penalized", sum.Fitness.Total())
	return sum, nil
}

type job struct {
	method    optim.Method
	iteration int
}

// Tune runs every (iteration, method) pair in parallel and returns the
// successful results in job order.
func (r *Runner) Tune(ctx context.Context, campaignID string, started time.Time) ([]storage.TunedResult, int, error) {
	var jobs []job
	for it := 0; it < r.iterations; it++ {
		for _, m := range r.cfg.Campaign.Methods {
			jobs = append(jobs, job{method: m, iteration: it})
		}
	}

	workers := r.cfg.Campaign.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]*storage.TunedResult, len(jobs))
	var (
		mu       sync.Mutex
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, j := range jobs {
		g.Go(func() error {
			res, err := r.runOne(gctx, j, len(jobs), campaignID, started)
			switch {
			case err == nil:
				results[i] = &res
				return nil
			case gctx.Err() != nil:
				return gctx.Err()
			case errors.Is(err, errStore):
				return err
			default:
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
		})
	}
	err := g.Wait()

	out := make([]storage.TunedResult, 0, len(jobs))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, failures, err
}

var errStore = errors.New("campaign: store write failed")

func (r *Runner) runOne(ctx context.Context, j job, total int, campaignID string, started time.Time) (storage.TunedResult, error) {
	runID := r.newID()
	seed := DeriveSeed(r.cfg.Campaign.Seed, j.method, j.iteration)
	recordedSeed := seed
	if !j.method.Stochastic() {
		recordedSeed = 0
	}
	log := r.logger.With("run", runID, "method", j.method.String(), "iteration", j.iteration)

	opt, err := optim.New(j.method, r.settings)
	if err != nil {
		return storage.TunedResult{}, err
	}

	runCtx := ctx
	if r.cfg.Campaign.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Campaign.RunTimeout)
		defer cancel()
	}

	r.progress(Event{Kind: EventRunStarted, RunID: runID, Method: j.method, Iteration: j.iteration, Total: total})
	runsInFlight.Inc()
	defer runsInFlight.Dec()

	var history []storage.GenerationRecord
	obs := optim.ObserverFunc(func(s optim.GenerationStat) {
		history = append(history, storage.GenerationRecord{
			RunID:      runID,
			Method:     j.method.String(),
			Iteration:  j.iteration,
			Generation: s.Generation,
			Best:       s.Best,
			Mean:       s.Mean,
			Worst:      s.Worst,
			Timestamp:  r.now().UTC(),
		})
		r.progress(Event{Kind: EventGeneration, RunID: runID, Method: j.method, Iteration: j.iteration, Total: total, Stat: s})
	})

	prob := optim.Problem{Objective: r.eval, Bounds: r.bounds}
	res, err := opt.Optimize(runCtx, prob, rand.New(rand.NewSource(seed)), obs)
	if err != nil {
		// A run that hit its own deadline keeps the best gains found so far.
		timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && res.Evaluations > 0
		if !timedOut {
			runsTotal.WithLabelValues(j.method.String(), "failed").Inc()
			log.Warn("run failed", "err", err)
			r.progress(Event{Kind: EventRunFailed, RunID: runID, Method: j.method, Iteration: j.iteration, Total: total, Err: err})
			return storage.TunedResult{}, err
		}
		log.Warn("run deadline exceeded, keeping best so far", "generations", res.Generations)
	}
	runDuration.WithLabelValues(j.method.String()).Observe(res.Elapsed.Seconds())

	tuned := storage.TunedResult{
		RunID:           runID,
		CampaignID:      campaignID,
		CampaignStarted: started,
		Method:          j.method.String(),
		Iteration:       j.iteration,
		Seed:            recordedSeed,
		Gains:           res.Gains,
		Cost:            res.Cost,
		Performance:     r.performance(res.Gains, log),
		Evaluations:     res.Evaluations,
		Elapsed:         res.Elapsed,
		Timestamp:       r.now().UTC(),
	}

	// Persist on the parent context so a run deadline does not drop the write.
	if err := r.store.AppendGenerations(ctx, history); err != nil {
		return storage.TunedResult{}, fmt.Errorf("%w: %w", errStore, err)
	}
	if err := r.store.AppendResult(ctx, tuned); err != nil {
		return storage.TunedResult{}, fmt.Errorf("%w: %w", errStore, err)
	}

	runsTotal.WithLabelValues(j.method.String(), "ok").Inc()
	log.Info("run finished", "gains", res.Gains.String(), "cost", res.Cost,
		"evaluations", res.Evaluations, "elapsed", res.Elapsed)
	r.progress(Event{Kind: EventRunFinished, RunID: runID, Method: j.method, Iteration: j.iteration, Total: total, Result: tuned})
	return tuned, nil
}

// performance falls back to penalty indices when the tuned loop cannot be
// simulated; classical rules are not clamped and may land there.
func (r *Runner) performance(g pid.Gains, log *slog.Logger) metrics.Performance {
	perf, err := r.eval.Performance(g)
	if err != nil {
		log.Warn("tuned gains do not simulate", "gains", g.String(), "err", err)
		grid := r.eval.Grid()
		return metrics.Performance{MSE: fitness.Penalty, SettlingTime: grid[len(grid)-1]}
	}
	return perf
}

// Robustness evaluates the latest stored gains of every configured method
// across the scenario catalog and appends the outcomes.
func (r *Runner) Robustness(ctx context.Context, campaignID string) ([]robustness.Report, error) {
	type target struct {
		method optim.Method
		result storage.TunedResult
	}
	var targets []target
	for _, m := range r.cfg.Campaign.Methods {
		latest, ok, err := r.store.LatestResult(ctx, m.String())
		if err != nil {
			return nil, err
		}
		if !ok {
			r.logger.Warn("no tuned result for method, skipping robustness", "method", m.String())
			continue
		}
		targets = append(targets, target{method: m, result: latest})
	}
	if len(targets) == 0 {
		return nil, ErrNoResults
	}
	r.logger.Info("robustness started", "methods", len(targets), "scenarios", len(r.robust.Scenarios()))

	reports := make([]robustness.Report, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(targets))
	for i, t := range targets {
		g.Go(func() error {
			rep, err := r.robust.Evaluate(gctx, t.method.String(), t.result.Gains)
			if err != nil {
				return err
			}
			reports[i] = rep
			ts := r.now().UTC()
			records := make([]storage.RobustnessRecord, len(rep.Outcomes))
			for k, o := range rep.Outcomes {
				records[k] = storage.RobustnessRecord{
					RunID:        t.result.RunID,
					CampaignID:   campaignID,
					Method:       rep.Method,
					Scenario:     o.Scenario.Name,
					Gains:        rep.Gains,
					MSE:          o.MSE,
					Overshoot:    o.Overshoot,
					SettlingTime: o.SettlingTime,
					Deviation:    o.Deviation,
					Failed:       o.Failed,
					Timestamp:    ts,
				}
			}
			if err := r.store.AppendRobustness(gctx, records); err != nil {
				return err
			}
			r.logger.Info("robustness evaluated", "method", rep.Method, "class", rep.Class,
				"mean_abs_deviation", rep.MeanAbsDeviation, "worst", rep.Worst, "stable", rep.Stable)
			r.progress(Event{Kind: EventRobustness, Method: t.method, Report: rep})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// DeriveSeed gives every (method, iteration) pair of a campaign its own
// reproducible stream.
func DeriveSeed(base int64, m optim.Method, iteration int) int64 {
	z := uint64(base) + uint64(m+1)*0x9e3779b97f4a7c15 + uint64(iteration)*0xbf58476d1ce4e5b9
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z >> 1)
}
