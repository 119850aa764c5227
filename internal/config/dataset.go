package config

import (
	"fmt"

	"github.com/sawpanic/markout/internal/dataset"
	"github.com/sawpanic/markout/internal/features"
)

// Dataset is config/dataset.yaml for `markout dataset`. The same file
// drives both the regression path (returns labels) and, through the
// barrier section, the classification path.
type Dataset struct {
	DataDir string `yaml:"data_dir"`
	Labels  string `yaml:"labels"`
	Out     string `yaml:"out"`
	Format  string `yaml:"format"`

	// The classification path reads and writes its own files.
	BarrierLabels string `yaml:"barrier_labels"`
	BarrierOut    string `yaml:"barrier_out"`

	Dataset dataset.Config        `yaml:"dataset"`
	Barrier dataset.BarrierConfig `yaml:"barrier"`
	Context features.Config       `yaml:"context"`
}

// DefaultDataset assembles a 5m-horizon CSV from ./data plus the
// returns labels emitted by the default labeling run.
func DefaultDataset() Dataset {
	return Dataset{
		DataDir:       "data",
		Labels:        "out/labels/returns.jsonl",
		Out:           "out/dataset/train.csv",
		Format:        "csv",
		BarrierLabels: "out/labels/barriers.jsonl",
		BarrierOut:    "out/dataset/barriers.csv",
		Dataset:       dataset.DefaultConfig(),
		Barrier:       dataset.DefaultBarrierConfig(),
		Context:       features.DefaultConfig(),
	}
}

// LoadDataset reads path over the defaults and validates the result.
func LoadDataset(path string) (Dataset, error) {
	cfg := DefaultDataset()
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports fatal configuration problems.
func (c Dataset) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataset: data_dir must not be empty")
	}
	if c.Labels == "" {
		return fmt.Errorf("dataset: labels must not be empty")
	}
	if c.Out == "" {
		return fmt.Errorf("dataset: out must not be empty")
	}
	if c.BarrierLabels == "" {
		return fmt.Errorf("dataset: barrier_labels must not be empty")
	}
	if c.BarrierOut == "" {
		return fmt.Errorf("dataset: barrier_out must not be empty")
	}
	switch c.Format {
	case "csv", "jsonl":
	default:
		return fmt.Errorf("dataset: format must be csv or jsonl, got %q", c.Format)
	}
	if err := c.Dataset.Validate(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if err := c.Barrier.Validate(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	return nil
}
