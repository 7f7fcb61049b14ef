package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the process-level paths and listen address. Engine
// tunables live in the metadata index's settings, not here.
type Config struct {
	Listen      string `yaml:"listen"`
	DataDir     string `yaml:"data_dir"`
	StorageRoot string `yaml:"storage_root"`
	StagingRoot string `yaml:"staging_root"`
}

// DefaultConfig returns the paths used when no config file or flags
// override them
func DefaultConfig() Config {
	return Config{
		Listen:      ":8000",
		DataDir:     "data",
		StorageRoot: "storage",
		StagingRoot: "staging",
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// argument returns the defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
