package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads a BridgeConfig manifest from a YAML file, applies
// defaults and validates it.
func LoadConfig(filename string) (*BridgeConfig, error) {
	data, err := os.ReadFile(filename) //nolint:gosec // path is user-provided
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*BridgeConfig, error) {
	// Step 1: JSON Schema validation (structure, types, enumerations, kind)
	if err := ValidateBridgeConfig(data); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	// Step 2: decode and fill what was left out
	var cfg BridgeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()

	// Step 3: constraints the schema cannot express
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
