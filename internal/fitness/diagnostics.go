package fitness

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reason classifies why an evaluation fell back to Penalty.
type Reason int

const (
	ReasonNonPhysical Reason = iota
	ReasonUnstable
	ReasonInvalidGrid
	ReasonNonFinite
	ReasonOther
	numReasons
)

func (r Reason) String() string {
	switch r {
	case ReasonNonPhysical:
		return "non_physical"
	case ReasonUnstable:
		return "unstable"
	case ReasonInvalidGrid:
		return "invalid_grid"
	case ReasonNonFinite:
		return "non_finite"
	default:
		return "other"
	}
}

// Reasons lists every penalty reason in declaration order.
func Reasons() []Reason {
	out := make([]Reason, 0, numReasons)
	for r := Reason(0); r < numReasons; r++ {
		out = append(out, r)
	}
	return out
}

var (
	evaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pidtune_fitness_evaluations_total",
		Help: "Closed-loop fitness evaluations performed",
	})

	penaltiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pidtune_fitness_penalties_total",
		Help: "Evaluations that returned the failure penalty, by reason",
	}, []string{"reason"})
)

// Diagnostics counts evaluations and penalties for one evaluator. Counts are
// mirrored into the process-wide Prometheus counters.
type Diagnostics struct {
	evaluations atomic.Int64
	penalties   [numReasons]atomic.Int64
}

func (d *Diagnostics) observe() {
	d.evaluations.Add(1)
	evaluationsTotal.Inc()
}

func (d *Diagnostics) penalize(r Reason) {
	d.penalties[r].Add(1)
	penaltiesTotal.WithLabelValues(r.String()).Inc()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Evaluations int64            `json:"evaluations"`
	Penalties   map[string]int64 `json:"penalties"`
}

// Total returns the number of penalized evaluations.
func (s Snapshot) Total() int64 {
	var n int64
	for _, v := range s.Penalties {
		n += v
	}
	return n
}

func (d *Diagnostics) Snapshot() Snapshot {
	s := Snapshot{
		Evaluations: d.evaluations.Load(),
		Penalties:   make(map[string]int64, numReasons),
	}
	for _, r := range Reasons() {
		if n := d.penalties[r].Load(); n > 0 {
			s.Penalties[r.String()] = n
		}
	}
	return s
}
