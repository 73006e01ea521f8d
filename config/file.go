package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a yaml configuration file over the defaults. A missing path
// returns the defaults untouched so deployments without a file still start.
func LoadFile(path string) (Settings, error) {
	cfg := Default()
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(filepath.Clean(trimmed))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Settings{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Load assembles the effective settings: defaults, then the optional yaml
// file, then environment overrides.
func Load(path string) (Settings, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return Settings{}, err
	}
	return FromEnv(cfg), nil
}
