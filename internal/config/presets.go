package config

import (
	"sort"

	"github.com/san-kum/pidtune/internal/storage"
)

const DefaultPreset = "greenhouse"

// Presets build a fresh Config on every call so callers may mutate the result.
var Presets = map[string]func() *Config{
	"greenhouse": DefaultConfig,
	"quick": func() *Config {
		cfg := DefaultConfig()
		cfg.Plant.Samples = 300
		cfg.GA.Population, cfg.GA.Generations = 10, 10
		cfg.PSO.Particles, cfg.PSO.Iterations = 10, 10
		cfg.DE.Population, cfg.DE.Generations = 10, 10
		cfg.CMAES.Generations = 10
		cfg.Grid.Steps = 5
		cfg.Campaign.Iterations = 3
		cfg.Storage.Backend, cfg.Storage.Path = storage.BackendMemory, ""
		return cfg
	},
	"greenhouse-fast": plantPreset(80, 250),
	"greenhouse-slow": plantPreset(45, 600),
	"industrial-oven": plantPreset(120, 180),
	"incubator":       plantPreset(35, 300),
	"thorough": func() *Config {
		cfg := DefaultConfig()
		cfg.GA.Population, cfg.GA.Generations = 40, 100
		cfg.PSO.Particles, cfg.PSO.Iterations = 40, 100
		cfg.DE.Population, cfg.DE.Generations = 40, 100
		cfg.CMAES.Generations = 150
		cfg.Grid.Steps = 20
		cfg.Campaign.Iterations = 30
		return cfg
	},
}

// plantPreset keeps the default campaign and swaps in a different process.
func plantPreset(gain, tau float64) func() *Config {
	return func() *Config {
		cfg := DefaultConfig()
		cfg.Plant.Gain, cfg.Plant.TimeConstant = gain, tau
		return cfg
	}
}

func GetPreset(name string) *Config {
	build, ok := Presets[name]
	if !ok {
		return nil
	}
	return build()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
