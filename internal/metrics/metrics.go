// Package metrics bundles every markout Prometheus collector behind one
// registry so commands and the monitor share a single scrape surface.
package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all markout metrics. Construct one per process with
// New; every collector is registered on a private registry so parallel
// tests and embedded commands never collide.
type Registry struct {
	reg *prometheus.Registry

	// Labeling pipeline
	LabelsEmitted *prometheus.CounterVec
	Skips         *prometheus.CounterVec

	// Ingest
	IngestRecords *prometheus.CounterVec

	// Label cache
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheHitRatio prometheus.Gauge

	// Step timing
	StepDuration *prometheus.HistogramVec

	// Recorder
	WSEvents     *prometheus.CounterVec
	WSReconnects prometheus.Counter

	// Backtest
	BacktestTrades *prometheus.CounterVec
}

// New creates a registry with every markout collector registered.
func New() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		LabelsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markout_labels_emitted_total",
				Help: "Labels emitted by kind (return, barrier) and horizon in ms",
			},
			[]string{"kind", "horizon"},
		),

		Skips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markout_skips_total",
				Help: "Records dropped per pipeline stage with the gate that dropped them",
			},
			[]string{"stage", "reason"},
		),

		IngestRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markout_ingest_records_total",
				Help: "JSONL records read by kind (snapshot, event) and parse status",
			},
			[]string{"kind", "status"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "markout_cache_hits_total",
				Help: "Label cache hits",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "markout_cache_misses_total",
				Help: "Label cache misses",
			},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "markout_cache_hit_ratio",
				Help: "Label cache hit ratio (0.0 to 1.0)",
			},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "markout_step_duration_seconds",
				Help:    "Duration of each command step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"step", "result"},
		),

		WSEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markout_ws_events_total",
				Help: "Websocket events recorded per stream type",
			},
			[]string{"stream"},
		),

		WSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "markout_ws_reconnects_total",
				Help: "Websocket reconnect attempts",
			},
		),

		BacktestTrades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "markout_backtest_trades_total",
				Help: "Backtest rows by action (long, short, skip)",
			},
			[]string{"action"},
		),
	}

	m.reg.MustRegister(
		m.LabelsEmitted,
		m.Skips,
		m.IngestRecords,
		m.CacheHits,
		m.CacheMisses,
		m.CacheHitRatio,
		m.StepDuration,
		m.WSEvents,
		m.WSReconnects,
		m.BacktestTrades,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for custom exporters.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }

// RecordLabel counts one emitted label.
func (m *Registry) RecordLabel(kind string, horizonMs int64) {
	m.LabelsEmitted.WithLabelValues(kind, strconv.FormatInt(horizonMs, 10)).Inc()
}

// RecordSkip counts one dropped record at a pipeline stage.
func (m *Registry) RecordSkip(stage, reason string) {
	m.Skips.WithLabelValues(stage, reason).Inc()
}

// RecordIngest counts one parsed or rejected input record.
func (m *Registry) RecordIngest(kind, status string) {
	m.IngestRecords.WithLabelValues(kind, status).Inc()
}

// RecordCacheHit counts a label cache hit and refreshes the ratio.
func (m *Registry) RecordCacheHit() {
	m.CacheHits.Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss counts a label cache miss and refreshes the ratio.
func (m *Registry) RecordCacheMiss() {
	m.CacheMisses.Inc()
	m.updateCacheHitRatio()
}

// RecordWSEvent counts one recorded websocket event.
func (m *Registry) RecordWSEvent(stream string) {
	m.WSEvents.WithLabelValues(stream).Inc()
}

// RecordWSReconnect counts one websocket reconnect attempt.
func (m *Registry) RecordWSReconnect() {
	m.WSReconnects.Inc()
}

// RecordTrade counts one backtest decision.
func (m *Registry) RecordTrade(action string) {
	m.BacktestTrades.WithLabelValues(action).Inc()
}

// StepTimer tracks execution time for one command step.
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a step.
func (m *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop records the step duration under the given result.
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("step completed")
}

// updateCacheHitRatio recomputes the hit ratio from the raw counters.
func (m *Registry) updateCacheHitRatio() {
	var hit, miss io_prometheus_client.Metric
	if err := m.CacheHits.Write(&hit); err != nil {
		return
	}
	if err := m.CacheMisses.Write(&miss); err != nil {
		return
	}
	hits := hit.GetCounter().GetValue()
	misses := miss.GetCounter().GetValue()
	if total := hits + misses; total > 0 {
		m.CacheHitRatio.Set(hits / total)
	}
}

// Snapshot flattens every gathered sample into name{labels} → value,
// feeding the monitor's /stats endpoint.
func (m *Registry) Snapshot() (map[string]float64, error) {
	families, err := m.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			var labels string
			if pairs := metric.GetLabel(); len(pairs) > 0 {
				parts := make([]string, 0, len(pairs))
				for _, l := range pairs {
					parts = append(parts, l.GetName()+"="+l.GetValue())
				}
				sort.Strings(parts)
				labels = "{" + strings.Join(parts, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[fam.GetName()+labels] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[fam.GetName()+labels] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[fam.GetName()+"_count"+labels] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
