// Package persistence defines the storage contracts behind the optional
// Postgres sink: computed labels and backtest trades. Labeling runs work
// entirely from JSONL; persistence adds queryable history on top when a
// database is configured.
package persistence

import (
	"context"

	"github.com/sawpanic/markout/internal/backtest"
	"github.com/sawpanic/markout/internal/labeler"
)

// TimeRange bounds a query window in epoch milliseconds, inclusive on
// both ends. A zero ToMs means unbounded.
type TimeRange struct {
	FromMs int64 `json:"fromMs"`
	ToMs   int64 `json:"toMs"`
}

// ReturnLabelStore persists horizon return labels. Inserts are
// idempotent on (symbol, entry time, horizon): relabeling the same data
// must not duplicate rows or fail.
type ReturnLabelStore interface {
	Insert(ctx context.Context, label labeler.ReturnLabel) error
	InsertBatch(ctx context.Context, labels []labeler.ReturnLabel) error
	ListBySymbol(ctx context.Context, symbol string, horizonMs int64, tr TimeRange, limit int) ([]labeler.ReturnLabel, error)
	Count(ctx context.Context) (int64, error)
}

// BarrierLabelStore persists triple-barrier labels with the same
// idempotency contract as ReturnLabelStore.
type BarrierLabelStore interface {
	Insert(ctx context.Context, label labeler.BarrierLabel) error
	InsertBatch(ctx context.Context, labels []labeler.BarrierLabel) error
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]labeler.BarrierLabel, error)
	Count(ctx context.Context) (int64, error)
}

// TradeStore persists backtest trades grouped by run.
type TradeStore interface {
	InsertRun(ctx context.Context, runID string, trades []backtest.Trade) error
	ListByRun(ctx context.Context, runID string) ([]backtest.Trade, error)
	Count(ctx context.Context) (int64, error)
}

// Repository bundles the stores behind one connection.
type Repository struct {
	ReturnLabels  ReturnLabelStore
	BarrierLabels BarrierLabelStore
	Trades        TradeStore
}
