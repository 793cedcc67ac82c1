package optim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// GAConfig parameterises the genetic algorithm. SelectionFloor is added to
// every shifted fitness so the worst individual stays selectable.
type GAConfig struct {
	Population     int     `yaml:"population" json:"population"`
	Generations    int     `yaml:"generations" json:"generations"`
	MutationRate   float64 `yaml:"mutation_rate" json:"mutation_rate"`
	SelectionFloor float64 `yaml:"selection_floor" json:"selection_floor"`
}

func DefaultGAConfig() GAConfig {
	return GAConfig{Population: 20, Generations: 50, MutationRate: 0.1, SelectionFloor: 1e-6}
}

func (c GAConfig) Validate() error {
	var errs []error
	if c.Population < 2 {
		errs = append(errs, fmt.Errorf("%w: population must be >= 2, got %d", ErrInvalidConfig, c.Population))
	}
	if c.Generations < 1 {
		errs = append(errs, fmt.Errorf("%w: generations must be >= 1, got %d", ErrInvalidConfig, c.Generations))
	}
	if !(c.MutationRate >= 0 && c.MutationRate <= 1) {
		errs = append(errs, fmt.Errorf("%w: mutation rate must be in [0,1], got %g", ErrInvalidConfig, c.MutationRate))
	}
	if !(c.SelectionFloor > 0) || math.IsInf(c.SelectionFloor, 0) {
		errs = append(errs, fmt.Errorf("%w: selection floor must be positive, got %g", ErrInvalidConfig, c.SelectionFloor))
	}
	return errors.Join(errs...)
}

type PSOConfig struct {
	Particles  int     `yaml:"particles" json:"particles"`
	Iterations int     `yaml:"iterations" json:"iterations"`
	Inertia    float64 `yaml:"inertia" json:"inertia"`
	Cognitive  float64 `yaml:"cognitive" json:"cognitive"`
	Social     float64 `yaml:"social" json:"social"`
}

func DefaultPSOConfig() PSOConfig {
	return PSOConfig{Particles: 20, Iterations: 50, Inertia: 0.7, Cognitive: 1.5, Social: 1.5}
}

func (c PSOConfig) Validate() error {
	var errs []error
	if c.Particles < 2 {
		errs = append(errs, fmt.Errorf("%w: particles must be >= 2, got %d", ErrInvalidConfig, c.Particles))
	}
	if c.Iterations < 1 {
		errs = append(errs, fmt.Errorf("%w: iterations must be >= 1, got %d", ErrInvalidConfig, c.Iterations))
	}
	coeffs := []struct {
		name string
		v    float64
	}{{"inertia", c.Inertia}, {"cognitive", c.Cognitive}, {"social", c.Social}}
	for _, k := range coeffs {
		if !(k.v >= 0) || math.IsInf(k.v, 0) {
			errs = append(errs, fmt.Errorf("%w: %s must be non-negative and finite, got %g", ErrInvalidConfig, k.name, k.v))
		}
	}
	return errors.Join(errs...)
}

type DEConfig struct {
	Population  int     `yaml:"population" json:"population"`
	Generations int     `yaml:"generations" json:"generations"`
	F           float64 `yaml:"f" json:"f"`
	CR          float64 `yaml:"cr" json:"cr"`
}

func DefaultDEConfig() DEConfig {
	return DEConfig{Population: 20, Generations: 50, F: 0.8, CR: 0.9}
}

func (c DEConfig) Validate() error {
	var errs []error
	// rand/1 needs three donors distinct from the target.
	if c.Population < 4 {
		errs = append(errs, fmt.Errorf("%w: population must be >= 4, got %d", ErrInvalidConfig, c.Population))
	}
	if c.Generations < 1 {
		errs = append(errs, fmt.Errorf("%w: generations must be >= 1, got %d", ErrInvalidConfig, c.Generations))
	}
	if !(c.F > 0 && c.F <= 2) {
		errs = append(errs, fmt.Errorf("%w: F must be in (0,2], got %g", ErrInvalidConfig, c.F))
	}
	if !(c.CR >= 0 && c.CR <= 1) {
		errs = append(errs, fmt.Errorf("%w: CR must be in [0,1], got %g", ErrInvalidConfig, c.CR))
	}
	return errors.Join(errs...)
}

// CMAESConfig parameterises CMA-ES. Lambda is the offspring count; 0 selects
// 4 + floor(3 ln n).
type CMAESConfig struct {
	Lambda      int     `yaml:"lambda" json:"lambda"`
	Generations int     `yaml:"generations" json:"generations"`
	Sigma0      float64 `yaml:"sigma0" json:"sigma0"`
}

func DefaultCMAESConfig() CMAESConfig {
	return CMAESConfig{Generations: 50, Sigma0: 0.3}
}

func (c CMAESConfig) Validate() error {
	var errs []error
	if c.Lambda != 0 && c.Lambda < 2 {
		errs = append(errs, fmt.Errorf("%w: lambda must be 0 (auto) or >= 2, got %d", ErrInvalidConfig, c.Lambda))
	}
	if c.Generations < 1 {
		errs = append(errs, fmt.Errorf("%w: generations must be >= 1, got %d", ErrInvalidConfig, c.Generations))
	}
	if !(c.Sigma0 > 0) || math.IsInf(c.Sigma0, 0) {
		errs = append(errs, fmt.Errorf("%w: sigma0 must be positive, got %g", ErrInvalidConfig, c.Sigma0))
	}
	return errors.Join(errs...)
}

type GridConfig struct {
	// Steps is the number of levels per axis, endpoints included.
	Steps int `yaml:"steps" json:"steps"`
}

func DefaultGridConfig() GridConfig {
	return GridConfig{Steps: 10}
}

func (c GridConfig) Validate() error {
	if c.Steps < 2 {
		return fmt.Errorf("%w: grid steps must be >= 2, got %d", ErrInvalidConfig, c.Steps)
	}
	return nil
}

type ClassicalConfig struct {
	// Threshold is the fraction of the open-loop rise that marks the
	// apparent dead time.
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

func DefaultClassicalConfig() ClassicalConfig {
	return ClassicalConfig{Threshold: 0.02}
}

func (c ClassicalConfig) Validate() error {
	if !(c.Threshold > 0 && c.Threshold < 0.632) {
		return fmt.Errorf("%w: identification threshold must be in (0, 0.632), got %g", ErrInvalidConfig, c.Threshold)
	}
	return nil
}

// Settings carries one config section per method.
type Settings struct {
	GA        GAConfig
	PSO       PSOConfig
	DE        DEConfig
	CMAES     CMAESConfig
	Grid      GridConfig
	Classical ClassicalConfig
	Logger    *slog.Logger
}

func DefaultSettings() Settings {
	return Settings{
		GA:        DefaultGAConfig(),
		PSO:       DefaultPSOConfig(),
		DE:        DefaultDEConfig(),
		CMAES:     DefaultCMAESConfig(),
		Grid:      DefaultGridConfig(),
		Classical: DefaultClassicalConfig(),
	}
}

// Validate checks every section, including those of methods that may never
// run, and prefixes each failure with its section name.
func (s Settings) Validate() error {
	sections := []struct {
		name string
		err  error
	}{
		{"ga", s.GA.Validate()},
		{"pso", s.PSO.Validate()},
		{"de", s.DE.Validate()},
		{"cmaes", s.CMAES.Validate()},
		{"grid", s.Grid.Validate()},
		{"classical", s.Classical.Validate()},
	}
	var errs []error
	for _, sec := range sections {
		if sec.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sec.name, sec.err))
		}
	}
	return errors.Join(errs...)
}

func (s Settings) withDefaults() Settings {
	if s.Logger == nil {
		s.Logger = slog.New(slog.DiscardHandler)
	}
	return s
}
