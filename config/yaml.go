package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dbtcore/rt/regalloc"
)

// Load reads a YAML file at path into a Config seeded from Default(),
// so a partial file only overrides the keys it mentions.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RegallocStrategy maps the configured strategy name to regalloc's
// Strategy enum, defaulting to adaptive for an unrecognized or empty
// value.
func (c Config) RegallocStrategy() regalloc.Strategy {
	switch c.Regalloc.Strategy {
	case "linear-scan":
		return regalloc.StrategyLinearScan
	case "graph-coloring":
		return regalloc.StrategyGraphColoring
	default:
		return regalloc.StrategyAdaptive
	}
}
