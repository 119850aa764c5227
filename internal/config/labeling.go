package config

import (
	"fmt"

	"github.com/sawpanic/markout/internal/features"
	"github.com/sawpanic/markout/internal/labeler"
)

// Labeling is config/labeling.yaml: inputs, outputs and the horizon
// labeler knobs for `markout label`.
type Labeling struct {
	DataDir      string          `yaml:"data_dir"`
	Out          string          `yaml:"out"`
	ArtifactsDir string          `yaml:"artifacts_dir"`
	Workers      int             `yaml:"workers"`
	Labeler      labeler.Config  `yaml:"labeler"`
	Context      features.Config `yaml:"context"`
	Cache        Cache           `yaml:"cache"`
}

// DefaultLabeling mirrors the zero-config run: read ./data, write
// labels under ./out/labels, one worker per symbol up to four.
func DefaultLabeling() Labeling {
	return Labeling{
		DataDir:      "data",
		Out:          "out/labels/returns.jsonl",
		ArtifactsDir: "artifacts",
		Workers:      4,
		Labeler:      labeler.DefaultConfig(),
		Context:      features.DefaultConfig(),
		Cache:        DefaultCache(),
	}
}

// LoadLabeling reads path over the defaults and validates the result.
// A missing file returns the defaults unchanged.
func LoadLabeling(path string) (Labeling, error) {
	cfg := DefaultLabeling()
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.Cache.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports fatal configuration problems.
func (c Labeling) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("labeling: data_dir must not be empty")
	}
	if c.Out == "" {
		return fmt.Errorf("labeling: out must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("labeling: workers must be at least 1, got %d", c.Workers)
	}
	if err := c.Labeler.Validate(); err != nil {
		return fmt.Errorf("labeling: %w", err)
	}
	if err := c.Cache.validate(); err != nil {
		return fmt.Errorf("labeling: %w", err)
	}
	return nil
}
