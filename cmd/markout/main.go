package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/markout/internal/monitor"
)

const (
	appName = "markout"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Point-in-time market data labeling and backtesting",
		Version: version,
		Long: `markout turns recorded futures market data into leakage-free training
labels and replays scored datasets into cost-aware backtests.

Typical flow:
  markout record                 # capture streams into ./data
  markout check                  # verify the recording is usable
  markout label                  # horizon return labels
  markout barrier                # triple-barrier labels
  markout dataset returns        # join labels and features into a CSV
  <train and score externally>
  markout backtest               # replay predictions into trades`,
	}

	labelCmd := &cobra.Command{
		Use:   "label",
		Short: "Compute horizon return labels from recorded snapshots",
		Long:  "Reads snapshot JSONL from the data directory and emits one execution-aware forward-return label per observation and horizon that survives the lag gate",
		RunE:  runLabel,
	}
	labelCmd.Flags().String("config", "config/labeling.yaml", "Labeling config file")
	labelCmd.Flags().String("data", "", "Data directory override")
	labelCmd.Flags().String("out", "", "Label output file override")
	labelCmd.Flags().Int("workers", 0, "Concurrent symbol workers override")
	labelCmd.Flags().String("progress", "auto", "Progress output mode (auto|plain|json)")
	labelCmd.Flags().String("db-config", "config/database.yaml", "Database config file")

	barrierCmd := &cobra.Command{
		Use:   "barrier",
		Short: "Compute triple-barrier labels from recorded tick paths",
		Long:  "Classifies each snapshot entry as TP, SL, or TIME by scanning the recorded event path forward from the entry time",
		RunE:  runBarrier,
	}
	barrierCmd.Flags().String("config", "config/barriers.yaml", "Barrier config file")
	barrierCmd.Flags().String("data", "", "Data directory override")
	barrierCmd.Flags().String("out", "", "Label output file override")
	barrierCmd.Flags().String("progress", "auto", "Progress output mode (auto|plain|json)")
	barrierCmd.Flags().String("db-config", "config/database.yaml", "Database config file")

	datasetCmd := &cobra.Command{
		Use:   "dataset",
		Short: "Assemble model-ready datasets from labels and snapshots",
		Long:  "Joins label files with snapshot features into flat training rows, one file per run",
	}

	datasetReturnsCmd := &cobra.Command{
		Use:   "returns",
		Short: "Assemble the regression dataset from return labels",
		RunE:  runDatasetReturns,
	}
	datasetBarriersCmd := &cobra.Command{
		Use:   "barriers",
		Short: "Assemble the classification dataset from barrier labels",
		RunE:  runDatasetBarriers,
	}
	for _, cmd := range []*cobra.Command{datasetReturnsCmd, datasetBarriersCmd} {
		cmd.Flags().String("config", "config/dataset.yaml", "Dataset config file")
		cmd.Flags().String("data", "", "Data directory override")
		cmd.Flags().String("labels", "", "Label file override")
		cmd.Flags().String("out", "", "Dataset output file override")
		cmd.Flags().String("format", "", "Output format override (csv|jsonl)")
	}
	datasetCmd.AddCommand(datasetReturnsCmd)
	datasetCmd.AddCommand(datasetBarriersCmd)

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a scored dataset into threshold-gated trades",
		Long:  "Reads a prediction file, admits rows past the long/short thresholds with per-symbol non-overlap, and reports cost-aware performance",
		RunE:  runBacktest,
	}
	backtestCmd.Flags().String("config", "config/backtest.yaml", "Backtest config file")
	backtestCmd.Flags().String("data", "", "Scored dataset override (csv or jsonl)")
	backtestCmd.Flags().String("artifacts", "", "Artifacts directory override")
	backtestCmd.Flags().String("db-config", "config/database.yaml", "Database config file")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check recorded data for integrity problems",
		Long:  "Samples the newest recording files and reports timestamp skew, staleness, missing symbols, and malformed lines. Any error finding exits non-zero.",
		RunE:  runCheck,
	}
	checkCmd.Flags().String("config", "config/integrity.yaml", "Integrity config file")
	checkCmd.Flags().String("data", "", "Data directory override")
	checkCmd.Flags().Bool("health", false, "Report per-feature coverage instead of integrity findings")
	checkCmd.Flags().Bool("json", false, "Emit the report as JSON")

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Record live exchange streams into labelable JSONL files",
		Long:  "Connects one combined websocket stream per endpoint and appends raw events plus periodic book snapshots into hourly-rotated files under the data directory",
		RunE:  runRecord,
	}
	recordCmd.Flags().String("config", "config/recorder.yaml", "Recorder config file")
	recordCmd.Flags().String("data", "", "Data directory override")
	recordCmd.Flags().String("symbols", "", "Comma-separated symbol override")
	recordCmd.Flags().String("metrics-addr", "", "Embed the monitor server at this address")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve health, metrics, and stats over HTTP",
		Long:  "Starts the monitoring server with /health, /metrics (Prometheus), and /stats endpoints",
		RunE:  runMonitor,
	}
	monitorCmd.Flags().String("addr", monitor.DefaultConfig().Addr, "Listen address")
	monitorCmd.Flags().String("data", "data", "Data directory for the freshness check")
	monitorCmd.Flags().String("db-config", "config/database.yaml", "Database config file")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(barrierCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(monitorCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
