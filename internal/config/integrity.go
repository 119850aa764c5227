package config

import (
	"fmt"

	"github.com/sawpanic/markout/internal/integrity"
)

// LoadIntegrity reads config/integrity.yaml over the checker defaults.
func LoadIntegrity(path string) (integrity.Config, error) {
	cfg := integrity.DefaultConfig()
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("integrity config: %w", err)
	}
	return cfg, nil
}
