package config

import (
	"fmt"

	"github.com/sawpanic/markout/internal/recorder"
)

// Record is config/recorder.yaml: capture settings plus the optional
// embedded monitor address for `markout record`.
type Record struct {
	Recorder    recorder.Config `yaml:"recorder"`
	MetricsAddr string          `yaml:"metrics_addr"`
}

// DefaultRecord captures Binance futures streams with no embedded
// monitor.
func DefaultRecord() Record {
	return Record{Recorder: recorder.DefaultConfig()}
}

// LoadRecord reads path over the defaults and validates the result.
func LoadRecord(path string) (Record, error) {
	cfg := DefaultRecord()
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports fatal configuration problems.
func (c Record) Validate() error {
	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}
