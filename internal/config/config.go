package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/pidtune/internal/optim"
	"github.com/san-kum/pidtune/internal/pid"
	"github.com/san-kum/pidtune/internal/plant"
	"github.com/san-kum/pidtune/internal/stats"
	"github.com/san-kum/pidtune/internal/storage"
)

const (
	DefaultHorizon    = 2.0
	DefaultSamples    = 1000
	DefaultIterations = 15
	DefaultSeed       = 42
	DefaultDataPath   = "pidtune.db"
)

// Metrics the stats command can compare methods on.
const (
	MetricMSE       = "mse"
	MetricOvershoot = "overshoot"
	MetricSettling  = "settling_time"
)

type Config struct {
	Plant     PlantConfig           `yaml:"plant"`
	Bounds    BoundsConfig          `yaml:"bounds"`
	GA        optim.GAConfig        `yaml:"ga"`
	PSO       optim.PSOConfig       `yaml:"pso"`
	DE        optim.DEConfig        `yaml:"de"`
	CMAES     optim.CMAESConfig     `yaml:"cmaes"`
	Grid      optim.GridConfig      `yaml:"grid"`
	Classical optim.ClassicalConfig `yaml:"classical"`
	Campaign  CampaignConfig        `yaml:"campaign"`
	Storage   StorageConfig         `yaml:"storage"`
	Stats     StatsConfig           `yaml:"stats"`
}

// PlantConfig describes the process and the step test. Horizon is in plant
// time constants; the response is sampled at Samples evenly spaced points.
type PlantConfig struct {
	Gain         float64 `yaml:"gain"`
	TimeConstant float64 `yaml:"time_constant"`
	Setpoint     float64 `yaml:"setpoint"`
	Horizon      float64 `yaml:"horizon"`
	Samples      int     `yaml:"samples"`
	Integrator   string  `yaml:"integrator"`
}

type BoundsConfig struct {
	Lower pid.Gains `yaml:"lower"`
	Upper pid.Gains `yaml:"upper"`
}

// CampaignConfig controls the (method x iteration) fan-out. Workers <= 0 means
// one worker per CPU; a zero RunTimeout disables the per-run deadline.
type CampaignConfig struct {
	Methods    []optim.Method `yaml:"methods"`
	Iterations int            `yaml:"iterations"`
	Seed       int64          `yaml:"seed"`
	Workers    int            `yaml:"workers"`
	RunTimeout time.Duration  `yaml:"run_timeout"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type StatsConfig struct {
	Metric string  `yaml:"metric"`
	Alpha  float64 `yaml:"alpha"`
}

func DefaultConfig() *Config {
	bounds := pid.DefaultBounds()
	return &Config{
		Plant: PlantConfig{
			Gain:         plant.NominalGain,
			TimeConstant: plant.NominalTimeConstant,
			Setpoint:     plant.NominalSetpoint,
			Horizon:      DefaultHorizon,
			Samples:      DefaultSamples,
			Integrator:   string(plant.SolverExact),
		},
		Bounds:    BoundsConfig{Lower: bounds.Lower, Upper: bounds.Upper},
		GA:        optim.DefaultGAConfig(),
		PSO:       optim.DefaultPSOConfig(),
		DE:        optim.DefaultDEConfig(),
		CMAES:     optim.DefaultCMAESConfig(),
		Grid:      optim.DefaultGridConfig(),
		Classical: optim.DefaultClassicalConfig(),
		Campaign: CampaignConfig{
			Methods:    []optim.Method{optim.ZN, optim.CC, optim.GA, optim.PSO, optim.DE, optim.CMAES},
			Iterations: DefaultIterations,
			Seed:       DefaultSeed,
		},
		Storage: StorageConfig{
			Backend: storage.BackendSQLite,
			Path:    DefaultDataPath,
		},
		Stats: StatsConfig{
			Metric: MetricMSE,
			Alpha:  stats.DefaultAlpha,
		},
	}
}

// Load reads a YAML file over the defaults, so a file only needs the keys it
// changes.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadOver(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOver reads a YAML file over cfg, typically a preset.
func LoadOver(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := c.PlantModel(); err != nil {
		errs = append(errs, err)
	}
	if !(c.Plant.Horizon > 0) {
		errs = append(errs, fmt.Errorf("config: plant horizon must be positive, got %g", c.Plant.Horizon))
	}
	if c.Plant.Samples < 2 {
		errs = append(errs, fmt.Errorf("config: plant samples must be >= 2, got %d", c.Plant.Samples))
	}
	if _, err := plant.ParseSolver(c.Plant.Integrator); err != nil {
		errs = append(errs, err)
	}
	if err := c.PIDBounds().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Settings().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Campaign.Methods) == 0 {
		errs = append(errs, errors.New("config: campaign needs at least one method"))
	}
	if c.Campaign.Iterations < 1 {
		errs = append(errs, fmt.Errorf("config: campaign iterations must be >= 1, got %d", c.Campaign.Iterations))
	}
	if c.Campaign.RunTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: run timeout must not be negative, got %s", c.Campaign.RunTimeout))
	}
	if _, err := storage.NewStore(c.Storage.Backend, c.Storage.Path); err != nil {
		errs = append(errs, err)
	}
	switch c.Stats.Metric {
	case MetricMSE, MetricOvershoot, MetricSettling:
	default:
		errs = append(errs, fmt.Errorf("config: unknown stats metric %q", c.Stats.Metric))
	}
	if _, err := stats.CriticalDifference(stats.MinMethods, stats.MinBlocks, c.Stats.Alpha); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) PlantModel() (plant.Plant, error) {
	return plant.New(c.Plant.Gain, c.Plant.TimeConstant)
}

// TimeGrid spans Horizon time constants of the configured plant.
func (c *Config) TimeGrid() []float64 {
	return plant.HorizonGrid(plant.Plant{Gain: c.Plant.Gain, TimeConstant: c.Plant.TimeConstant},
		c.Plant.Horizon, c.Plant.Samples)
}

func (c *Config) PIDBounds() pid.Bounds {
	return pid.Bounds{Lower: c.Bounds.Lower, Upper: c.Bounds.Upper}
}

// Settings gathers the per-method sections; the logger is left for the caller.
func (c *Config) Settings() optim.Settings {
	return optim.Settings{
		GA:        c.GA,
		PSO:       c.PSO,
		DE:        c.DE,
		CMAES:     c.CMAES,
		Grid:      c.Grid,
		Classical: c.Classical,
	}
}
