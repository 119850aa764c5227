package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/markout/internal/artifacts"
	"github.com/sawpanic/markout/internal/config"
	"github.com/sawpanic/markout/internal/ingest"
	"github.com/sawpanic/markout/internal/labeler"
	"github.com/sawpanic/markout/internal/metrics"
	"github.com/sawpanic/markout/internal/progress"
	"github.com/sawpanic/markout/internal/store"
)

// barrierRunSummary is the summary.json payload for one barrier run.
type barrierRunSummary struct {
	RunID     string                `json:"runId"`
	DataDir   string                `json:"dataDir"`
	Out       string                `json:"out"`
	Config    labeler.BarrierConfig `json:"config"`
	Snapshots ingest.Stats          `json:"snapshots"`
	Events    ingest.Stats          `json:"events"`
	Labeling  labeler.BarrierStats  `json:"labeling"`
}

// runBarrier executes the triple-barrier labeling pipeline.
func runBarrier(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	progressMode, _ := cmd.Flags().GetString("progress")
	dbConfig, _ := cmd.Flags().GetString("db-config")

	cfg, err := config.LoadBarriers(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("data"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("out"); v != "" {
		cfg.Out = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("out", cfg.Out).
		Str("event_type", cfg.Barrier.EventType).
		Int64("horizon_ms", cfg.Barrier.HorizonMs).
		Float64("tp_bps", cfg.Barrier.TPBps).
		Float64("sl_bps", cfg.Barrier.SLBps).
		Msg("Starting barrier run")

	reg := metrics.New()
	tracker := progress.New(progress.ParseMode(progressMode), "barrier", 4)

	timer := reg.StartStepTimer("ingest")
	observations, snapStats, err := ingest.ReadSnapshots(ctx, cfg.DataDir)
	if err != nil {
		timer.Stop("error")
		tracker.Fail(err)
		return fmt.Errorf("read snapshots: %w", err)
	}
	ticks, evStats, err := ingest.ReadEvents(ctx, cfg.DataDir, cfg.Barrier.EventType)
	if err != nil {
		timer.Stop("error")
		tracker.Fail(err)
		return fmt.Errorf("read events: %w", err)
	}
	timer.Stop("ok")
	reg.IngestRecords.WithLabelValues("snapshot", "ok").Add(float64(snapStats.Records))
	reg.IngestRecords.WithLabelValues("snapshot", "malformed").Add(float64(snapStats.Malformed))
	reg.IngestRecords.WithLabelValues("event", "ok").Add(float64(evStats.Records))
	reg.IngestRecords.WithLabelValues("event", "malformed").Add(float64(evStats.Malformed))
	tracker.Step(1, fmt.Sprintf("read %d snapshots, %d %s events", snapStats.Records, evStats.Records, cfg.Barrier.EventType))

	tickStore := store.NewTickStore()
	tickStore.Ingest(ticks)

	lab, err := labeler.NewBarrierLabeler(cfg.Barrier)
	if err != nil {
		tracker.Fail(err)
		return err
	}

	timer = reg.StartStepTimer("barrier")
	labels, stats, err := lab.LabelAll(ctx, observations, tickStore)
	if err != nil {
		timer.Stop("error")
		tracker.Fail(err)
		return fmt.Errorf("barrier label: %w", err)
	}
	timer.Stop("ok")
	for range labels {
		reg.RecordLabel("barrier", cfg.Barrier.HorizonMs)
	}
	reg.Skips.WithLabelValues("barrier", "missing_events").Add(float64(stats.MissingEvents))
	tracker.Step(1, fmt.Sprintf("%d labels from %d snapshots", stats.Labels, stats.Snapshots))

	if err := labeler.WriteBarrierLabels(cfg.Out, labels); err != nil {
		tracker.Fail(err)
		return fmt.Errorf("write labels: %w", err)
	}
	tracker.Step(1, "wrote "+cfg.Out)

	aw, err := artifacts.NewWriter(cfg.ArtifactsDir, "barrier")
	if err != nil {
		log.Warn().Err(err).Msg("Artifacts unavailable")
	} else {
		writeBarrierArtifacts(aw, cfg, snapStats, evStats, stats, labels)
	}
	tracker.Step(1, "artifacts written")

	persistBarrierLabels(ctx, dbConfig, labels)

	tracker.Done(fmt.Sprintf("%d labels", len(labels)))
	fmt.Printf("Labeled %d snapshots: %d barrier labels, %d without a tick path\n",
		stats.Snapshots, stats.Labels, stats.MissingEvents)
	fmt.Printf("Wrote %s\n", cfg.Out)

	log.Info().
		Int("labels", stats.Labels).
		Int("missing_events", stats.MissingEvents).
		Msg("Barrier run completed")
	return nil
}

func writeBarrierArtifacts(aw *artifacts.Writer, cfg config.Barriers, snapStats, evStats ingest.Stats, stats labeler.BarrierStats, labels []labeler.BarrierLabel) {
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

	summary := barrierRunSummary{
		RunID:     aw.RunID(),
		DataDir:   cfg.DataDir,
		Out:       cfg.Out,
		Config:    cfg.Barrier,
		Snapshots: snapStats,
		Events:    evStats,
		Labeling:  stats,
	}
	if err := aw.WriteSummary(summary); err != nil {
		log.Warn().Err(err).Msg("Failed to write summary")
	}

	outcomes := countBarrierOutcomes(labels)
	report := artifacts.NewReport("Barrier Run", aw.RunID()).
		Section("Input").
		KV("Data Dir", "%s", cfg.DataDir).
		KV("Snapshots", "%d", snapStats.Records).
		KV("Events", "%d %s", evStats.Records, cfg.Barrier.EventType).
		Section("Labels").
		KV("Emitted", "%d", stats.Labels).
		KV("Missing tick path", "%d", stats.MissingEvents).
		Table(
			[]string{"Side", "TP", "SL", "TIME"},
			[][]string{
				{"long", fmt.Sprint(outcomes["long:TP"]), fmt.Sprint(outcomes["long:SL"]), fmt.Sprint(outcomes["long:TIME"])},
				{"short", fmt.Sprint(outcomes["short:TP"]), fmt.Sprint(outcomes["short:SL"]), fmt.Sprint(outcomes["short:TIME"])},
			},
		).
		Section("Config").
		KV("Horizon", "%dms", cfg.Barrier.HorizonMs).
		KV("Barriers", "TP %.1f bps / SL %.1f bps", cfg.Barrier.TPBps, cfg.Barrier.SLBps).
		KV("Side", "%s", cfg.Barrier.Side)
	if err := aw.WriteReport(report.String()); err != nil {
		log.Warn().Err(err).Msg("Failed to write report")
	}
}

func countBarrierOutcomes(labels []labeler.BarrierLabel) map[string]int {
	out := make(map[string]int)
	for _, lb := range labels {
		if lb.LabelLong != nil {
			out["long:"+*lb.LabelLong]++
		}
		if lb.LabelShort != nil {
			out["short:"+*lb.LabelShort]++
		}
	}
	return out
}

// persistBarrierLabels mirrors persistLabels for the barrier table.
func persistBarrierLabels(ctx context.Context, dbConfig string, labels []labeler.BarrierLabel) {
	mgr, err := openDatabase(ctx, dbConfig)
	if err != nil {
		log.Warn().Err(err).Msg("Database unavailable, labels not persisted")
		return
	}
	if !mgr.Enabled() {
		return
	}
	defer mgr.Close()
	if err := mgr.Repository().BarrierLabels.InsertBatch(ctx, labels); err != nil {
		log.Warn().Err(err).Msg("Failed to persist barrier labels")
		return
	}
	log.Info().Int("labels", len(labels)).Msg("Barrier labels persisted")
}
