package campaign

import (
	"github.com/san-kum/pidtune/internal/optim"
	"github.com/san-kum/pidtune/internal/robustness"
	"github.com/san-kum/pidtune/internal/storage"
)

type EventKind int

const (
	EventRunStarted EventKind = iota
	EventGeneration
	EventRunFinished
	EventRunFailed
	EventRobustness
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventRunStarted:
		return "run_started"
	case EventGeneration:
		return "generation"
	case EventRunFinished:
		return "run_finished"
	case EventRunFailed:
		return "run_failed"
	case EventRobustness:
		return "robustness"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event reports campaign progress. Only the fields relevant to Kind are set.
// Events of one run arrive in order; events of different runs interleave.
type Event struct {
	Kind      EventKind
	RunID     string
	Method    optim.Method
	Iteration int
	Total     int
	Stat      optim.GenerationStat
	Result    storage.TunedResult
	Report    robustness.Report
	Err       error
}

// ProgressFunc receives events from worker goroutines and must be safe for
// concurrent use.
type ProgressFunc func(Event)
