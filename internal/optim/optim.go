// Package optim tunes PID gains by minimising a scalar objective over a box.
//
// Every tuner, stochastic or rule-based, implements Optimizer. Optimizers are
// single-threaded; a Result and its History belong to the caller once
// Optimize returns. Per-generation statistics stream through an Observer so
// the loop itself never touches storage.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/san-kum/pidtune/internal/pid"
)

var (
	ErrUnknownMethod = errors.New("optim: unknown method")
	ErrInvalidConfig = errors.New("optim: invalid configuration")
	ErrNoProcess     = errors.New("optim: objective does not expose a process to identify")
	ErrIdentify      = errors.New("optim: open-loop identification failed")
)

// Method names a tuning strategy.
type Method int

const (
	GA Method = iota
	PSO
	DE
	CMAES
	ZN
	CC
	GRID
)

func (m Method) String() string {
	switch m {
	case GA:
		return "GA"
	case PSO:
		return "PSO"
	case DE:
		return "DE"
	case CMAES:
		return "CMA-ES"
	case ZN:
		return "ZN"
	case CC:
		return "CC"
	case GRID:
		return "GRID"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Stochastic reports whether the method draws from its RNG.
func (m Method) Stochastic() bool {
	switch m {
	case GA, PSO, DE, CMAES:
		return true
	default:
		return false
	}
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(b []byte) error {
	parsed, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMethod accepts the display name case-insensitively; "CMAES" and
// "CMA_ES" also map to CMA-ES.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GA":
		return GA, nil
	case "PSO":
		return PSO, nil
	case "DE":
		return DE, nil
	case "CMA-ES", "CMAES", "CMA_ES":
		return CMAES, nil
	case "ZN":
		return ZN, nil
	case "CC":
		return CC, nil
	case "GRID":
		return GRID, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// AllMethods lists every method in display order.
func AllMethods() []Method {
	return []Method{ZN, CC, GA, PSO, DE, CMAES, GRID}
}

// Objective maps gains to a finite, non-negative cost. Lower is better.
type Objective interface {
	Evaluate(g pid.Gains) float64
}

type ObjectiveFunc func(g pid.Gains) float64

func (f ObjectiveFunc) Evaluate(g pid.Gains) float64 { return f(g) }

// Problem is what every optimizer receives explicitly; there are no
// package-level defaults.
type Problem struct {
	Objective Objective
	Bounds    pid.Bounds
}

func (p Problem) Validate() error {
	if p.Objective == nil {
		return fmt.Errorf("%w: nil objective", ErrInvalidConfig)
	}
	return p.Bounds.Validate()
}

// Result is the outcome of one optimizer run.
type Result struct {
	Method      Method           `json:"method"`
	Gains       pid.Gains        `json:"gains"`
	Cost        float64          `json:"cost"`
	Generations int              `json:"generations"`
	Evaluations int              `json:"evaluations"`
	Elapsed     time.Duration    `json:"elapsed"`
	History     []GenerationStat `json:"history"`
}

type Optimizer interface {
	Method() Method
	Optimize(ctx context.Context, prob Problem, rng *rand.Rand, obs Observer) (Result, error)
}

// New builds the optimizer for m from its section of s.
func New(m Method, s Settings) (Optimizer, error) {
	s = s.withDefaults()
	var err error
	var opt Optimizer
	switch m {
	case GA:
		err = s.GA.Validate()
		opt = &geneticAlgorithm{cfg: s.GA, logger: s.Logger}
	case PSO:
		err = s.PSO.Validate()
		opt = &particleSwarm{cfg: s.PSO, logger: s.Logger}
	case DE:
		err = s.DE.Validate()
		opt = &differentialEvolution{cfg: s.DE, logger: s.Logger}
	case CMAES:
		err = s.CMAES.Validate()
		opt = &cmaES{cfg: s.CMAES, logger: s.Logger}
	case ZN, CC:
		err = s.Classical.Validate()
		opt = &classical{method: m, cfg: s.Classical, logger: s.Logger}
	case GRID:
		err = s.Grid.Validate()
		opt = &gridSearch{cfg: s.Grid, logger: s.Logger}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMethod, m)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m, err)
	}
	return opt, nil
}
