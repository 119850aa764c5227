package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/markout/internal/config"
	"github.com/sawpanic/markout/internal/metrics"
	"github.com/sawpanic/markout/internal/monitor"
	"github.com/sawpanic/markout/internal/recorder"
)

// runRecord captures live exchange streams until interrupted.
func runRecord(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadRecord(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("data"); v != "" {
		cfg.Recorder.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("symbols"); v != "" {
		cfg.Recorder.Symbols = splitSymbols(v)
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Strs("symbols", cfg.Recorder.Symbols).
		Strs("streams", cfg.Recorder.Streams).
		Str("data_dir", cfg.Recorder.DataDir).
		Dur("snapshot_interval", cfg.Recorder.SnapshotInterval).
		Msg("Starting recorder")

	reg := metrics.New()
	rec, err := recorder.New(cfg.Recorder, reg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mCfg := monitor.DefaultConfig()
		mCfg.Addr = cfg.MetricsAddr
		srv := monitor.NewServer(mCfg, reg)
		srv.AddCheck("data_freshness", dataFreshnessCheck(cfg.Recorder.DataDir, 2*cfg.Recorder.SnapshotInterval))
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("Monitor server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Monitor shutdown error")
			}
		}()
	}

	if err := rec.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("Recorder stopped")
	return nil
}

// splitSymbols parses a comma-separated override into the uppercase
// symbol names the exchange expects.
func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToUpper(strings.TrimSpace(p)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}
