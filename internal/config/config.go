// Package config loads the YAML configuration used by the cmd binaries.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	DataDir       string `yaml:"dataDir"`
	MinimumFreeGB uint   `yaml:"minimumFreeGB"`
	EvalWorkers   int    `yaml:"evalWorkers"`
}

// Load reads a YAML config file and applies defaults for missing fields.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	config.applyDefaults()
	return config, nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	config := Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "veildb-data"
	}
	if c.MinimumFreeGB == 0 {
		c.MinimumFreeGB = 1
	}
	if c.EvalWorkers == 0 {
		c.EvalWorkers = 1
	}
}
