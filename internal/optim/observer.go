package optim

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/pidtune/internal/pid"
)

// GenerationStat summarises one generation. Best is the best cost seen so far
// in the run, Mean and Worst describe the generation's own population.
type GenerationStat struct {
	Generation int     `json:"generation"`
	Best       float64 `json:"best"`
	Mean       float64 `json:"mean"`
	Worst      float64 `json:"worst"`
}

type Observer interface {
	OnGeneration(s GenerationStat)
}

type ObserverFunc func(s GenerationStat)

func (f ObserverFunc) OnGeneration(s GenerationStat) { f(s) }

// Recorder keeps every stat it sees in memory.
type Recorder struct {
	mu    sync.Mutex
	stats []GenerationStat
}

func (r *Recorder) OnGeneration(s GenerationStat) {
	r.mu.Lock()
	r.stats = append(r.stats, s)
	r.mu.Unlock()
}

func (r *Recorder) Stats() []GenerationStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]GenerationStat, len(r.stats))
	copy(out, r.stats)
	return out
}

type nopObserver struct{}

func (nopObserver) OnGeneration(GenerationStat) {}

// tracker owns the best-so-far point of a run and emits generation stats.
type tracker struct {
	method   Method
	best     pid.Gains
	bestCost float64
	evals    int
	history  []GenerationStat
	obs      Observer
	start    time.Time
}

func newTracker(m Method, obs Observer) *tracker {
	if obs == nil {
		obs = nopObserver{}
	}
	return &tracker{
		method:   m,
		bestCost: math.Inf(1),
		obs:      obs,
		start:    time.Now(),
	}
}

// eval scores g and offers it as a new best.
func (t *tracker) eval(obj Objective, g pid.Gains) float64 {
	c := obj.Evaluate(g)
	t.evals++
	t.offer(g, c)
	return c
}

// offer reports whether g strictly improved the best cost.
func (t *tracker) offer(g pid.Gains, cost float64) bool {
	if cost < t.bestCost {
		t.best = g
		t.bestCost = cost
		return true
	}
	return false
}

func (t *tracker) record(gen int, costs []float64) GenerationStat {
	worst := math.Inf(-1)
	for _, c := range costs {
		worst = math.Max(worst, c)
	}
	s := GenerationStat{
		Generation: gen,
		Best:       t.bestCost,
		Mean:       stat.Mean(costs, nil),
		Worst:      worst,
	}
	t.history = append(t.history, s)
	t.obs.OnGeneration(s)
	return s
}

func (t *tracker) result() Result {
	h := make([]GenerationStat, len(t.history))
	copy(h, t.history)
	gens := 0
	if n := len(h); n > 0 {
		gens = h[n-1].Generation
	}
	return Result{
		Method:      t.method,
		Gains:       t.best,
		Cost:        t.bestCost,
		Generations: gens,
		Evaluations: t.evals,
		Elapsed:     time.Since(t.start),
		History:     h,
	}
}
