package config

import (
	"fmt"

	"github.com/sawpanic/markout/internal/labeler"
)

// Barriers is config/barriers.yaml for `markout barrier`.
type Barriers struct {
	DataDir      string                `yaml:"data_dir"`
	Out          string                `yaml:"out"`
	ArtifactsDir string                `yaml:"artifacts_dir"`
	Barrier      labeler.BarrierConfig `yaml:"barrier"`
}

// DefaultBarriers labels both sides from aggTrade ticks, 30s horizon.
func DefaultBarriers() Barriers {
	return Barriers{
		DataDir:      "data",
		Out:          "out/labels/barriers.jsonl",
		ArtifactsDir: "artifacts",
		Barrier:      labeler.DefaultBarrierConfig(),
	}
}

// LoadBarriers reads path over the defaults and validates the result.
func LoadBarriers(path string) (Barriers, error) {
	cfg := DefaultBarriers()
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports fatal configuration problems.
func (c Barriers) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("barriers: data_dir must not be empty")
	}
	if c.Out == "" {
		return fmt.Errorf("barriers: out must not be empty")
	}
	if err := c.Barrier.Validate(); err != nil {
		return fmt.Errorf("barriers: %w", err)
	}
	return nil
}
