package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/markout/internal/artifacts"
	"github.com/sawpanic/markout/internal/backtest"
	"github.com/sawpanic/markout/internal/config"
	"github.com/sawpanic/markout/internal/dataset"
	"github.com/sawpanic/markout/internal/metrics"
)

// backtestRunSummary is the summary.json payload for one backtest run.
type backtestRunSummary struct {
	RunID   string              `json:"runId"`
	Data    string              `json:"data"`
	Config  backtest.Config     `json:"config"`
	Scored  dataset.ScoredStats `json:"scored"`
	Summary backtest.Summary    `json:"summary"`
}

// runBacktest replays a scored dataset into trades and a performance
// summary.
func runBacktest(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dbConfig, _ := cmd.Flags().GetString("db-config")

	cfg, err := config.LoadBacktest(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("data"); v != "" {
		cfg.Data = v
	}
	if v, _ := cmd.Flags().GetString("artifacts"); v != "" {
		cfg.ArtifactsDir = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("data", cfg.Data).
		Float64("long_threshold", cfg.Backtest.LongThreshold).
		Float64("short_threshold", cfg.Backtest.ShortThreshold).
		Float64("extra_cost_bps", cfg.Backtest.ExtraCostBps).
		Bool("short_enabled", cfg.Backtest.ShortEnabled).
		Msg("Starting backtest")

	reg := metrics.New()

	timer := reg.StartStepTimer("read_scored")
	rows, scoredStats, err := dataset.ReadScored(cfg.Data)
	if err != nil {
		timer.Stop("error")
		return fmt.Errorf("read scored dataset: %w", err)
	}
	timer.Stop("ok")
	if scoredStats.Malformed > 0 {
		log.Warn().Int("malformed", scoredStats.Malformed).Msg("Scored file carried unusable lines")
	}

	timer = reg.StartStepTimer("backtest")
	sim := backtest.NewSimulator(cfg.Backtest)
	trades, summary := sim.Run(rows)
	timer.Stop("ok")
	for _, tr := range trades {
		reg.RecordTrade(tr.Action)
	}

	runID := uuid.New().String()
	aw, err := artifacts.NewWriter(cfg.ArtifactsDir, "backtest")
	if err != nil {
		log.Warn().Err(err).Msg("Artifacts unavailable")
	} else {
		runID = aw.RunID()
		writeBacktestArtifacts(aw, cfg, scoredStats, trades, summary)
	}

	persistTrades(ctx, dbConfig, runID, trades)

	printBacktestSummary(cfg, scoredStats, summary)
	log.Info().
		Int("trades", summary.Trades).
		Float64("cum_pct", summary.CumPct).
		Float64("hit_rate", summary.HitRate).
		Msg("Backtest completed")
	return nil
}

func printBacktestSummary(cfg config.Backtest, scored dataset.ScoredStats, s backtest.Summary) {
	fmt.Printf("\nBacktest of %s (%d rows)\n", cfg.Data, scored.Rows)
	fmt.Printf("%-18s %d\n", "Trades:", s.Trades)
	fmt.Printf("%-18s %.1f%%\n", "Hit rate:", s.HitRate*100)
	fmt.Printf("%-18s %+.4f%%\n", "Mean return:", s.MeanPct)
	fmt.Printf("%-18s %+.4f%%\n", "Median return:", s.MedianPct)
	fmt.Printf("%-18s %.4f%%\n", "Std dev:", s.StdPct)
	fmt.Printf("%-18s %.2f\n", "Sharpe-like:", s.SharpeLike)
	fmt.Printf("%-18s %+.4f%%\n", "Cumulative:", s.CumPct)
	fmt.Printf("%-18s %.4f%%\n", "Max drawdown:", s.MaxDrawdownPct)
}

func writeBacktestArtifacts(aw *artifacts.Writer, cfg config.Backtest, scored dataset.ScoredStats, trades []backtest.Trade, summary backtest.Summary) {
	results, err := aw.Results()
	if err == nil {
		for _, tr := range trades {
			if err := results.Append(tr); err != nil {
				log.Warn().Err(err).Msg("Failed to append trade")
				break
			}
		}
		if err := results.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close results")
		}
	} else {
		log.Warn().Err(err).Msg("Failed to open results stream")
	}

	payload := backtestRunSummary{
		RunID:   aw.RunID(),
		Data:    cfg.Data,
		Config:  cfg.Backtest,
		Scored:  scored,
		Summary: summary,
	}
	if err := aw.WriteSummary(payload); err != nil {
		log.Warn().Err(err).Msg("Failed to write summary")
	}

	report := artifacts.NewReport("Backtest Run", aw.RunID()).
		Section("Input").
		KV("Scored File", "%s", cfg.Data).
		KV("Rows", "%d", scored.Rows).
		KV("Malformed", "%d", scored.Malformed).
		Section("Thresholds").
		KV("Long", "%.4f", cfg.Backtest.LongThreshold).
		KV("Short", "%.4f", cfg.Backtest.ShortThreshold).
		KV("Shorts Enabled", "%t", cfg.Backtest.ShortEnabled).
		KV("Extra Cost", "%.1f bps", cfg.Backtest.ExtraCostBps).
		Section("Performance").
		KV("Trades", "%d", summary.Trades).
		KV("Hit Rate", "%.1f%%", summary.HitRate*100).
		KV("Mean Return", "%+.4f%%", summary.MeanPct).
		KV("Median Return", "%+.4f%%", summary.MedianPct).
		KV("Std Dev", "%.4f%%", summary.StdPct).
		KV("Sharpe-like", "%.2f", summary.SharpeLike).
		KV("Cumulative Return", "%+.4f%%", summary.CumPct).
		KV("Max Drawdown", "%.4f%%", summary.MaxDrawdownPct)
	if err := aw.WriteReport(report.String()); err != nil {
		log.Warn().Err(err).Msg("Failed to write report")
	}
}

// persistTrades inserts the run's trades into Postgres when persistence
// is configured. Failures are warnings: the artifacts are already
// written and the insert is per-run idempotent.
func persistTrades(ctx context.Context, dbConfig, runID string, trades []backtest.Trade) {
	if len(trades) == 0 {
		return
	}
	mgr, err := openDatabase(ctx, dbConfig)
	if err != nil {
		log.Warn().Err(err).Msg("Database unavailable, trades not persisted")
		return
	}
	if !mgr.Enabled() {
		return
	}
	defer mgr.Close()
	if err := mgr.Repository().Trades.InsertRun(ctx, runID, trades); err != nil {
		log.Warn().Err(err).Msg("Failed to persist trades")
		return
	}
	log.Info().Int("trades", len(trades)).Str("run_id", runID).Msg("Trades persisted")
}
