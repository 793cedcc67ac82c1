// Package robustness re-simulates tuned gains on perturbed plants and grades
// how much the step-response error degrades.
package robustness

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/san-kum/pidtune/internal/fitness"
	"github.com/san-kum/pidtune/internal/pid"
	"github.com/san-kum/pidtune/internal/plant"
)

// NominalScenario names the unperturbed entry every deviation is measured from.
const NominalScenario = "Nominal"

// Scenario is one plant variant of the catalog.
type Scenario struct {
	Name        string      `json:"name"`
	Plant       plant.Plant `json:"plant"`
	Description string      `json:"description"`
}

// Catalog returns the nominal plant followed by the five +/-10% variants.
func Catalog(nominal plant.Plant) []Scenario {
	k, tau := nominal.Gain, nominal.TimeConstant
	return []Scenario{
		{NominalScenario, plant.Plant{Gain: k, TimeConstant: tau}, "nominal plant"},
		{"C1", plant.Plant{Gain: 0.9 * k, TimeConstant: tau}, "gain -10%"},
		{"C2", plant.Plant{Gain: 1.1 * k, TimeConstant: tau}, "gain +10%"},
		{"C3", plant.Plant{Gain: k, TimeConstant: 0.9 * tau}, "time constant -10%"},
		{"C4", plant.Plant{Gain: k, TimeConstant: 1.1 * tau}, "time constant +10%"},
		{"C5", plant.Plant{Gain: 0.9 * k, TimeConstant: 1.1 * tau}, "gain -10%, time constant +10% (worst case)"},
	}
}

// Class grades the mean absolute MSE deviation across perturbed scenarios.
type Class string

const (
	Excellent Class = "excellent"
	Good      Class = "good"
	Fair      Class = "fair"
	Poor      Class = "poor"
)

func Classify(meanAbsDeviation float64) Class {
	switch {
	case meanAbsDeviation < 5:
		return Excellent
	case meanAbsDeviation < 15:
		return Good
	case meanAbsDeviation < 30:
		return Fair
	default:
		return Poor
	}
}

// Outcome is the response of one scenario. Deviation is the MSE change
// relative to the nominal scenario, in percent.
type Outcome struct {
	Scenario     Scenario `json:"scenario"`
	MSE          float64  `json:"mse"`
	Overshoot    float64  `json:"overshoot"`
	SettlingTime float64  `json:"settling_time"`
	Deviation    float64  `json:"deviation"`
	Failed       bool     `json:"failed"`
}

// Report collects every scenario of one gain vector. Stable is true when no
// scenario hit the failure penalty.
type Report struct {
	Method           string    `json:"method"`
	Gains            pid.Gains `json:"gains"`
	Outcomes         []Outcome `json:"outcomes"`
	MeanAbsDeviation float64   `json:"mean_abs_deviation"`
	MaxAbsDeviation  float64   `json:"max_abs_deviation"`
	Worst            string    `json:"worst"`
	Class            Class     `json:"class"`
	Stable           bool      `json:"stable"`
}

// Evaluator runs the catalog against one base fitness evaluator; every
// scenario shares its grid, setpoint and solver.
type Evaluator struct {
	base      *fitness.Evaluator
	scenarios []Scenario
	logger    *slog.Logger
}

type Option func(*Evaluator)

func WithScenarios(s []Scenario) Option {
	return func(e *Evaluator) { e.scenarios = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(base *fitness.Evaluator, opts ...Option) (*Evaluator, error) {
	if base == nil {
		return nil, fmt.Errorf("robustness: nil base evaluator")
	}
	e := &Evaluator{
		base:      base,
		scenarios: Catalog(base.Plant()),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.scenarios) == 0 || e.scenarios[0].Name != NominalScenario {
		return nil, fmt.Errorf("robustness: scenario list must start with %q", NominalScenario)
	}
	for _, s := range e.scenarios {
		if err := s.Plant.Validate(); err != nil {
			return nil, fmt.Errorf("robustness: scenario %s: %w", s.Name, err)
		}
	}
	return e, nil
}

func (e *Evaluator) Scenarios() []Scenario {
	return append([]Scenario(nil), e.scenarios...)
}

// Evaluate runs every scenario for g. It stops between scenarios when ctx is
// done.
func (e *Evaluator) Evaluate(ctx context.Context, method string, g pid.Gains) (Report, error) {
	r := Report{Method: method, Gains: g, Stable: true}
	grid := e.base.Grid()
	var nominal float64

	for i, s := range e.scenarios {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		ev, err := e.base.WithPlant(s.Plant)
		if err != nil {
			return r, fmt.Errorf("robustness: scenario %s: %w", s.Name, err)
		}

		o := Outcome{Scenario: s, MSE: ev.Evaluate(g)}
		if perf, err := ev.Performance(g); err == nil {
			o.Overshoot, o.SettlingTime = perf.Overshoot, perf.SettlingTime
		} else {
			o.Failed = true
			o.SettlingTime = grid[len(grid)-1]
			e.logger.Warn("robustness scenario failed", "method", method, "scenario", s.Name, "err", err)
		}
		if !(o.MSE < fitness.Penalty) {
			r.Stable = false
		}

		if i == 0 {
			nominal = o.MSE
		} else if nominal != 0 {
			o.Deviation = (o.MSE - nominal) / nominal * 100
		}
		r.Outcomes = append(r.Outcomes, o)
	}

	summarize(&r)
	e.logger.Debug("robustness evaluated", "method", method, "mean_abs_deviation", r.MeanAbsDeviation, "class", r.Class)
	return r, nil
}

func summarize(r *Report) {
	var sum float64
	perturbed := 0
	for _, o := range r.Outcomes {
		if o.Scenario.Name == NominalScenario {
			continue
		}
		d := math.Abs(o.Deviation)
		sum += d
		perturbed++
		if r.Worst == "" || d > r.MaxAbsDeviation {
			r.MaxAbsDeviation = d
			r.Worst = o.Scenario.Name
		}
	}
	if perturbed > 0 {
		r.MeanAbsDeviation = sum / float64(perturbed)
	}
	r.Class = Classify(r.MeanAbsDeviation)
}

// Summary is the robustness of one method aggregated over its reports.
type Summary struct {
	Method           string  `json:"method"`
	MeanAbsDeviation float64 `json:"mean_abs_deviation"`
	MaxAbsDeviation  float64 `json:"max_abs_deviation"`
	Class            Class   `json:"class"`
	Samples          int     `json:"samples"`
}

// Rank groups outcomes by method and orders them most robust first. Only
// perturbed scenarios contribute.
func Rank(outcomes map[string][]Outcome) []Summary {
	out := make([]Summary, 0, len(outcomes))
	for method, os := range outcomes {
		s := Summary{Method: method}
		var sum float64
		for _, o := range os {
			if o.Scenario.Name == NominalScenario {
				continue
			}
			d := math.Abs(o.Deviation)
			sum += d
			s.MaxAbsDeviation = math.Max(s.MaxAbsDeviation, d)
			s.Samples++
		}
		if s.Samples == 0 {
			continue
		}
		s.MeanAbsDeviation = sum / float64(s.Samples)
		s.Class = Classify(s.MeanAbsDeviation)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MeanAbsDeviation != out[j].MeanAbsDeviation {
			return out[i].MeanAbsDeviation < out[j].MeanAbsDeviation
		}
		return out[i].Method < out[j].Method
	})
	return out
}
