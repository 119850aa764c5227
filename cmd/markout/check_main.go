package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/markout/internal/config"
	"github.com/sawpanic/markout/internal/integrity"
)

// runCheck samples the newest recording files and reports integrity
// findings, or per-feature coverage with --health.
func runCheck(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	asJSON, _ := cmd.Flags().GetBool("json")
	healthMode, _ := cmd.Flags().GetBool("health")

	cfg, err := config.LoadIntegrity(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("data"); v != "" {
		cfg.DataDir = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := integrity.NewChecker(cfg)

	if healthMode {
		rep, err := checker.Health(ctx)
		if err != nil {
			return fmt.Errorf("health scan: %w", err)
		}
		if asJSON {
			return encodeStdout(rep)
		}
		printHealthReport(rep)
		// Exit non-zero when any feature sits under the coverage floor
		if len(rep.BelowThreshold) > 0 {
			os.Exit(1)
		}
		return nil
	}

	rep, err := checker.Run(ctx)
	if err != nil {
		return fmt.Errorf("integrity scan: %w", err)
	}
	if asJSON {
		if err := encodeStdout(rep); err != nil {
			return err
		}
	} else {
		printIntegrityReport(rep)
	}
	// Exit non-zero when any error-severity finding exists
	if !rep.OK() {
		os.Exit(1)
	}
	return nil
}

func encodeStdout(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printIntegrityReport(rep *integrity.Report) {
	fmt.Printf("🔍 Recording Integrity Check\n")
	fmt.Printf("════════════════════════════\n\n")
	fmt.Printf("Data Dir: %s\n", rep.DataDir)
	fmt.Printf("Checked: %s\n\n", msTime(rep.CheckedAtMs))

	fmt.Printf("📄 Snapshots\n")
	fmt.Printf("────────────\n")
	fmt.Printf("%-16s %d files, %d rows\n", "Sampled:", rep.Snapshots.Files, rep.Snapshots.Rows)
	if rep.Snapshots.Rows > 0 {
		fmt.Printf("%-16s %s .. %s\n", "Window:", msTime(rep.Snapshots.OldestMs), msTime(rep.Snapshots.NewestMs))
		fmt.Printf("%-16s %d\n", "Symbols:", rep.Snapshots.SymbolsSeen)
		fmt.Printf("%-16s %d\n", "Missing fields:", rep.Snapshots.MissingFields)
	}
	fmt.Printf("\n")

	if len(rep.Events) > 0 {
		fmt.Printf("📈 Events\n")
		fmt.Printf("─────────\n")
		for evType, ev := range rep.Events {
			fmt.Printf("%-16s %d files, %d rows\n", evType+":", ev.Files, ev.Rows)
		}
		fmt.Printf("\n")
	}

	if len(rep.Alignment) > 0 {
		fmt.Printf("⏱  Alignment\n")
		fmt.Printf("────────────\n")
		for _, lag := range rep.Alignment {
			fmt.Printf("%-16s %s trails by %dms\n", lag.Symbol+":", lag.EventType, lag.LagMs)
		}
		fmt.Printf("\n")
	}

	if len(rep.Findings) == 0 {
		fmt.Printf("✅ No findings\n")
		return
	}
	fmt.Printf("🚨 Findings\n")
	fmt.Printf("───────────\n")
	for _, f := range rep.Findings {
		icon := "⚠️"
		if f.Severity == integrity.SeverityError {
			icon = "❌"
		}
		fmt.Printf("%s [%s] %s: %s\n", icon, f.Severity, f.Check, f.Detail)
	}
}

func printHealthReport(rep *integrity.HealthReport) {
	fmt.Printf("🔍 Recording Health Check\n")
	fmt.Printf("═════════════════════════\n\n")
	fmt.Printf("Data Dir: %s\n", rep.DataDir)
	fmt.Printf("Checked: %s\n", msTime(rep.CheckedAtMs))
	fmt.Printf("Sampled: %d rows across %d files\n", rep.Rows, rep.Files)
	if rep.Rows == 0 {
		fmt.Printf("\n❌ No snapshot rows found\n")
		return
	}
	fmt.Printf("Window: %s .. %s\n", msTime(rep.OldestMs), msTime(rep.NewestMs))
	fmt.Printf("Symbols: %d seen", rep.SymbolsSeen)
	if rep.ExpectedSymbols > 0 {
		fmt.Printf(" of %d expected", rep.ExpectedSymbols)
	}
	fmt.Printf("\n\n")

	if len(rep.MissingSymbols) > 0 {
		fmt.Printf("🚨 Missing symbols: %v\n\n", rep.MissingSymbols)
	}

	fmt.Printf("📊 Feature Coverage (worst first)\n")
	fmt.Printf("─────────────────────────────────\n")
	for _, cov := range rep.Coverage {
		icon := "✅"
		for _, name := range rep.BelowThreshold {
			if name == cov.Feature {
				icon = "❌"
				break
			}
		}
		fmt.Printf("%s %-18s %.1f%%\n", icon, cov.Feature, cov.Ratio*100)
	}
	fmt.Printf("\n")

	if rep.CompletenessSamples > 0 {
		fmt.Printf("Avg completeness: %.1f%% (%d samples)\n", rep.AvgCompleteness*100, rep.CompletenessSamples)
	}
	if rep.MicroSamples > 0 {
		fmt.Printf("Avg micro completeness: %.1f%% (%d samples)\n", rep.AvgMicro*100, rep.MicroSamples)
	}
}

func msTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05 UTC")
}
