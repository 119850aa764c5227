package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/markout/internal/artifacts"
	"github.com/sawpanic/markout/internal/cache"
	"github.com/sawpanic/markout/internal/config"
	"github.com/sawpanic/markout/internal/ingest"
	"github.com/sawpanic/markout/internal/labeler"
	"github.com/sawpanic/markout/internal/metrics"
	"github.com/sawpanic/markout/internal/progress"
	"github.com/sawpanic/markout/internal/store"
)

// labelRunSummary is the summary.json payload for one label run.
type labelRunSummary struct {
	RunID       string              `json:"runId"`
	DataDir     string              `json:"dataDir"`
	Out         string              `json:"out"`
	Workers     int                 `json:"workers"`
	Config      labeler.Config      `json:"config"`
	Fingerprint string              `json:"fingerprint"`
	Ingest      ingest.Stats        `json:"ingest"`
	Labeling    labeler.ReturnStats `json:"labeling"`
}

// runLabel executes the horizon return labeling pipeline.
func runLabel(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	progressMode, _ := cmd.Flags().GetString("progress")
	dbConfig, _ := cmd.Flags().GetString("db-config")

	cfg, err := config.LoadLabeling(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("data"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("out"); v != "" {
		cfg.Out = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Workers = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("out", cfg.Out).
		Int("workers", cfg.Workers).
		Floats64("horizons_min", horizonsMinutes(cfg.Labeler.HorizonsMs)).
		Msg("Starting label run")

	reg := metrics.New()
	tracker := progress.New(progress.ParseMode(progressMode), "label", 4)

	timer := reg.StartStepTimer("ingest")
	observations, ingStats, err := ingest.ReadSnapshots(ctx, cfg.DataDir)
	if err != nil {
		timer.Stop("error")
		tracker.Fail(err)
		return fmt.Errorf("read snapshots: %w", err)
	}
	timer.Stop("ok")
	reg.IngestRecords.WithLabelValues("snapshot", "ok").Add(float64(ingStats.Records))
	reg.IngestRecords.WithLabelValues("snapshot", "malformed").Add(float64(ingStats.Malformed))
	tracker.Step(1, fmt.Sprintf("read %d snapshots from %d files", ingStats.Records, ingStats.Files))

	st := store.New()
	st.Ingest(observations)

	lab, err := labeler.NewHorizonLabeler(cfg.Labeler)
	if err != nil {
		tracker.Fail(err)
		return err
	}
	if cfg.Cache.Enabled {
		c := cache.New(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		defer c.Close()
		ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
		lab.SetMemo(cache.NewLabelMemo(c, cfg.Labeler, ttl, reg))
		log.Info().Str("addr", cfg.Cache.Addr).Dur("ttl", ttl).Msg("Label cache enabled")
	}

	timer = reg.StartStepTimer("label")
	labels, stats, err := lab.LabelStore(ctx, st, cfg.Workers)
	if err != nil {
		timer.Stop("error")
		tracker.Fail(err)
		return fmt.Errorf("label: %w", err)
	}
	timer.Stop("ok")
	for _, lb := range labels {
		reg.RecordLabel("return", lb.HorizonMs)
	}
	reg.Skips.WithLabelValues("label", "no_target").Add(float64(stats.SkipNoTarget))
	reg.Skips.WithLabelValues("label", "lag").Add(float64(stats.SkipLag))
	reg.Skips.WithLabelValues("label", "non_positive").Add(float64(stats.SkipNonPositive))
	reg.Skips.WithLabelValues("label", "missing_bbo").Add(float64(stats.SkipMissingBBO))
	tracker.Step(1, fmt.Sprintf("%d labels from %d observations", stats.Labels, stats.Observations))

	if err := labeler.WriteReturnLabels(cfg.Out, labels); err != nil {
		tracker.Fail(err)
		return fmt.Errorf("write labels: %w", err)
	}
	tracker.Step(1, "wrote "+cfg.Out)

	aw, err := artifacts.NewWriter(cfg.ArtifactsDir, "label")
	if err != nil {
		log.Warn().Err(err).Msg("Artifacts unavailable")
	} else {
		writeLabelArtifacts(aw, cfg, ingStats, stats, labels)
	}
	tracker.Step(1, "artifacts written")

	persistLabels(ctx, dbConfig, labels)

	tracker.Done(fmt.Sprintf("%d labels", len(labels)))
	fmt.Printf("Labeled %d observations: %d labels, %d skips (%d lag, %d no target)\n",
		stats.Observations, stats.Labels, stats.Skips(), stats.SkipLag, stats.SkipNoTarget)
	fmt.Printf("Wrote %s\n", cfg.Out)

	log.Info().
		Int("labels", stats.Labels).
		Int("skips", stats.Skips()).
		Int("malformed", ingStats.Malformed).
		Msg("Label run completed")
	return nil
}

func writeLabelArtifacts(aw *artifacts.Writer, cfg config.Labeling, ingStats ingest.Stats, stats labeler.ReturnStats, labels []labeler.ReturnLabel) {
	results, err := aw.Results()
	if err == nil {
		for _, lb := range labels {
			if err := results.Append(lb); err != nil {
				log.Warn().Err(err).Msg("Failed to append result")
				break
			}
		}
		if err := results.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close results")
		}
	} else {
		log.Warn().Err(err).Msg("Failed to open results stream")
	}

	summary := labelRunSummary{
		RunID:       aw.RunID(),
		DataDir:     cfg.DataDir,
		Out:         cfg.Out,
		Workers:     cfg.Workers,
		Config:      cfg.Labeler,
		Fingerprint: cfg.Labeler.Fingerprint(),
		Ingest:      ingStats,
		Labeling:    stats,
	}
	if err := aw.WriteSummary(summary); err != nil {
		log.Warn().Err(err).Msg("Failed to write summary")
	}

	report := artifacts.NewReport("Label Run", aw.RunID()).
		Section("Input").
		KV("Data Dir", "%s", cfg.DataDir).
		KV("Files", "%d", ingStats.Files).
		KV("Records", "%d", ingStats.Records).
		KV("Malformed", "%d", ingStats.Malformed).
		Section("Labels").
		KV("Observations", "%d", stats.Observations).
		KV("Emitted", "%d", stats.Labels).
		KV("Skipped (lag gate)", "%d", stats.SkipLag).
		KV("Skipped (no target)", "%d", stats.SkipNoTarget).
		KV("Skipped (non-positive price)", "%d", stats.SkipNonPositive).
		KV("Skipped (missing BBO)", "%d", stats.SkipMissingBBO).
		Section("Config").
		KV("Horizons", "%v", cfg.Labeler.HorizonsMs).
		KV("Lag Tolerance", "%.2f", cfg.Labeler.LagTolerance).
		KV("Cost", "%.1f bps fee + %.1f bps slippage per side", cfg.Labeler.FeeBps, cfg.Labeler.SlippageBps).
		KV("Fingerprint", "%s", cfg.Labeler.Fingerprint())
	if err := aw.WriteReport(report.String()); err != nil {
		log.Warn().Err(err).Msg("Failed to write report")
	}
}

// persistLabels inserts labels into Postgres when persistence is
// configured. Failures are warnings: the files are already written and
// inserts are idempotent on re-run.
func persistLabels(ctx context.Context, dbConfig string, labels []labeler.ReturnLabel) {
	mgr, err := openDatabase(ctx, dbConfig)
	if err != nil {
		log.Warn().Err(err).Msg("Database unavailable, labels not persisted")
		return
	}
	if !mgr.Enabled() {
		return
	}
	defer mgr.Close()
	if err := mgr.Repository().ReturnLabels.InsertBatch(ctx, labels); err != nil {
		log.Warn().Err(err).Msg("Failed to persist labels")
		return
	}
	log.Info().Int("labels", len(labels)).Msg("Labels persisted")
}

func horizonsMinutes(horizonsMs []int64) []float64 {
	out := make([]float64, len(horizonsMs))
	for i, h := range horizonsMs {
		out[i] = float64(h) / 60_000
	}
	return out
}
