package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/markout/internal/labeler"
	"github.com/sawpanic/markout/internal/metrics"
)

// LabelMemo memoizes horizon return labels across runs, keyed by
// (config fingerprint, symbol, entry time, horizon). A config change
// rotates the fingerprint, leaving stale entries to expire on TTL.
// Cache failures degrade to recomputing; they are logged, never fatal.
type LabelMemo struct {
	cache       Cache
	fingerprint string
	ttl         time.Duration
	metrics     *metrics.Registry
}

// NewLabelMemo builds a memo over c for the given labeler config.
// The metrics registry is optional.
func NewLabelMemo(c Cache, cfg labeler.Config, ttl time.Duration, m *metrics.Registry) *LabelMemo {
	return &LabelMemo{
		cache:       c,
		fingerprint: cfg.Fingerprint(),
		ttl:         ttl,
		metrics:     m,
	}
}

func (m *LabelMemo) key(symbol string, entryTimeMs, horizonMs int64) string {
	return fmt.Sprintf("markout:label:%s:%s:%d:%d", m.fingerprint, symbol, entryTimeMs, horizonMs)
}

// Get implements labeler.Memo.
func (m *LabelMemo) Get(ctx context.Context, symbol string, entryTimeMs, horizonMs int64) (labeler.ReturnLabel, bool) {
	raw, ok, err := m.cache.Get(ctx, m.key(symbol, entryTimeMs, horizonMs))
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("label cache get failed")
		m.miss()
		return labeler.ReturnLabel{}, false
	}
	if !ok {
		m.miss()
		return labeler.ReturnLabel{}, false
	}
	var lb labeler.ReturnLabel
	if err := json.Unmarshal(raw, &lb); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("label cache entry corrupt")
		m.miss()
		return labeler.ReturnLabel{}, false
	}
	m.hit()
	return lb, true
}

// Put implements labeler.Memo.
func (m *LabelMemo) Put(ctx context.Context, lb labeler.ReturnLabel) {
	raw, err := json.Marshal(lb)
	if err != nil {
		log.Warn().Err(err).Str("symbol", lb.Symbol).Msg("label cache marshal failed")
		return
	}
	if err := m.cache.Set(ctx, m.key(lb.Symbol, lb.EntryTime, lb.HorizonMs), raw, m.ttl); err != nil {
		log.Warn().Err(err).Str("symbol", lb.Symbol).Msg("label cache set failed")
	}
}

func (m *LabelMemo) hit() {
	if m.metrics != nil {
		m.metrics.RecordCacheHit()
	}
}

func (m *LabelMemo) miss() {
	if m.metrics != nil {
		m.metrics.RecordCacheMiss()
	}
}
