package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/markout/internal/config"
	"github.com/sawpanic/markout/internal/dataset"
	"github.com/sawpanic/markout/internal/features"
	"github.com/sawpanic/markout/internal/ingest"
	"github.com/sawpanic/markout/internal/labeler"
	"github.com/sawpanic/markout/internal/store"
)

// loadDatasetConfig reads config/dataset.yaml and applies the flag
// overrides shared by both dataset subcommands.
func loadDatasetConfig(cmd *cobra.Command) (config.Dataset, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDataset(configPath)
	if err != nil {
		return cfg, err
	}
	if v, _ := cmd.Flags().GetString("data"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("format"); v != "" {
		cfg.Format = v
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// runDatasetReturns joins return labels with snapshot features into one
// flat regression dataset.
func runDatasetReturns(cmd *cobra.Command, args []string) error {
	cfg, err := loadDatasetConfig(cmd)
	if err != nil {
		return err
	}
	labelsPath := cfg.Labels
	if v, _ := cmd.Flags().GetString("labels"); v != "" {
		labelsPath = v
	}
	outPath := cfg.Out
	if v, _ := cmd.Flags().GetString("out"); v != "" {
		outPath = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("labels", labelsPath).
		Str("out", outPath).
		Str("mode", cfg.Dataset.Mode).
		Int64("horizon_ms", cfg.Dataset.HorizonMs).
		Msg("Assembling returns dataset")

	observations, _, err := ingest.ReadSnapshots(ctx, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("read snapshots: %w", err)
	}
	labels, loadStats, err := labeler.LoadReturnLabels(labelsPath)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	if loadStats.Malformed > 0 {
		log.Warn().Int("malformed", loadStats.Malformed).Msg("Label file carried unusable lines")
	}

	st := store.New()
	st.Ingest(observations)
	engine := features.NewEngine(cfg.Context, st)

	builder, err := dataset.NewBuilder(cfg.Dataset, engine, labels)
	if err != nil {
		return err
	}
	rows, stats, err := builder.Build(ctx, observations)
	if err != nil {
		return err
	}

	if err := writeReturnRows(outPath, cfg.Format, rows); err != nil {
		return err
	}

	fmt.Printf("Assembled %d rows (%d observations without labels, %d below micro floor)\n",
		stats.Rows, stats.MissingLabels, stats.SkippedMicro)
	fmt.Printf("Wrote %s\n", outPath)
	return nil
}

// runDatasetBarriers joins barrier labels with snapshot features into
// one flat classification dataset.
func runDatasetBarriers(cmd *cobra.Command, args []string) error {
	cfg, err := loadDatasetConfig(cmd)
	if err != nil {
		return err
	}
	labelsPath := cfg.BarrierLabels
	if v, _ := cmd.Flags().GetString("labels"); v != "" {
		labelsPath = v
	}
	outPath := cfg.BarrierOut
	if v, _ := cmd.Flags().GetString("out"); v != "" {
		outPath = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("labels", labelsPath).
		Str("out", outPath).
		Str("side", cfg.Barrier.Side).
		Msg("Assembling barriers dataset")

	observations, _, err := ingest.ReadSnapshots(ctx, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("read snapshots: %w", err)
	}
	labels, loadStats, err := labeler.LoadBarrierLabels(labelsPath)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	if loadStats.Malformed > 0 {
		log.Warn().Int("malformed", loadStats.Malformed).Msg("Label file carried unusable lines")
	}

	builder, err := dataset.NewBarrierBuilder(cfg.Barrier, labels)
	if err != nil {
		return err
	}
	rows, stats, err := builder.Build(ctx, observations)
	if err != nil {
		return err
	}

	if err := writeBarrierRows(outPath, cfg.Format, rows, cfg.Barrier.TargetColumn); err != nil {
		return err
	}

	fmt.Printf("Assembled %d rows (%d observations without labels)\n", stats.Rows, stats.MissingLabels)
	fmt.Printf("Wrote %s\n", outPath)
	return nil
}

// writeReturnRows dispatches on the configured format, honoring an
// explicit file extension over it when the two disagree.
func writeReturnRows(path, format string, rows []dataset.Row) error {
	if formatFor(path, format) == "jsonl" {
		return dataset.WriteJSONL(path, rows)
	}
	return dataset.WriteCSV(path, rows)
}

func writeBarrierRows(path, format string, rows []dataset.BarrierRow, targetColumn string) error {
	if formatFor(path, format) == "jsonl" {
		return dataset.WriteBarrierJSONL(path, rows, targetColumn)
	}
	return dataset.WriteBarrierCSV(path, rows, targetColumn)
}

func formatFor(path, format string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json":
		return "jsonl"
	case ".csv":
		return "csv"
	}
	return format
}
