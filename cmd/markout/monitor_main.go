package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/markout/internal/metrics"
	"github.com/sawpanic/markout/internal/monitor"
)

// monitorMaxStale bounds the freshness check; it matches the integrity
// checker's default staleness tolerance.
const monitorMaxStale = 120 * time.Second

// runMonitor starts the standalone monitoring HTTP server.
func runMonitor(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	dataDir, _ := cmd.Flags().GetString("data")
	dbConfig, _ := cmd.Flags().GetString("db-config")

	log.Info().Str("addr", addr).Msg("Starting monitoring server")

	cfg := monitor.DefaultConfig()
	cfg.Addr = addr
	reg := metrics.New()
	srv := monitor.NewServer(cfg, reg)
	srv.AddCheck("data_freshness", dataFreshnessCheck(dataDir, monitorMaxStale))

	mgr, err := openDatabase(context.Background(), dbConfig)
	if err != nil {
		log.Warn().Err(err).Msg("Database unavailable, skipping postgres check")
	} else if mgr.Enabled() {
		defer mgr.Close()
		srv.AddCheck("postgres", mgr.Ping)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("health", fmt.Sprintf("http://%s/health", addr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
			Str("stats", fmt.Sprintf("http://%s/stats", addr)).
			Msg("Monitor endpoints available")

		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
		return err
	}

	log.Info().Msg("Monitor server shutdown complete")
	return nil
}

// dataFreshnessCheck probes the newest snapshot file's mtime. Recording
// files embed the UTC hour in the name, so lexical order is
// chronological order.
func dataFreshnessCheck(dataDir string, maxStale time.Duration) monitor.CheckFunc {
	return func(ctx context.Context) error {
		matches, err := filepath.Glob(filepath.Join(dataDir, "snapshots_*.jsonl"))
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("no snapshot files under %s", dataDir)
		}
		sort.Strings(matches)
		info, err := os.Stat(matches[len(matches)-1])
		if err != nil {
			return err
		}
		if age := time.Since(info.ModTime()); age > maxStale {
			return fmt.Errorf("newest snapshot file is %s old", age.Round(time.Second))
		}
		return nil
	}
}
