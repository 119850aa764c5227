package config

import (
	"fmt"

	"github.com/sawpanic/markout/internal/backtest"
)

// Backtest is config/backtest.yaml for `markout backtest`. Data points
// at a scored dataset (CSV or JSONL with a prediction column).
type Backtest struct {
	Data         string          `yaml:"data"`
	ArtifactsDir string          `yaml:"artifacts_dir"`
	Backtest     backtest.Config `yaml:"backtest"`
}

// DefaultBacktest trades every signal at zero thresholds with no cost
// padding, shorts enabled.
func DefaultBacktest() Backtest {
	return Backtest{
		Data:         "out/dataset/scored.csv",
		ArtifactsDir: "artifacts",
		Backtest:     backtest.DefaultConfig(),
	}
}

// LoadBacktest reads path over the defaults and validates the result.
func LoadBacktest(path string) (Backtest, error) {
	cfg := DefaultBacktest()
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports fatal configuration problems.
func (c Backtest) Validate() error {
	if c.Data == "" {
		return fmt.Errorf("backtest: data must not be empty")
	}
	if c.Backtest.ExtraCostBps < 0 {
		return fmt.Errorf("backtest: extra_cost_bps must not be negative, got %v", c.Backtest.ExtraCostBps)
	}
	return nil
}
