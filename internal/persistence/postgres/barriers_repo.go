package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/markout/internal/labeler"
	"github.com/sawpanic/markout/internal/persistence"
)

// barriersRepo implements persistence.BarrierLabelStore.
type barriersRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBarrierLabelStore creates the Postgres-backed barrier label store.
func NewBarrierLabelStore(db *sqlx.DB, timeout time.Duration) persistence.BarrierLabelStore {
	return &barriersRepo{db: db, timeout: timeout}
}

const insertBarrierLabel = `
	INSERT INTO barrier_labels
		(symbol, entry_time, horizon_ms, entry_price, tp_bps, sl_bps,
		 event_type, label_long, label_short, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Insert stores one label; duplicates are a no-op.
func (r *barriersRepo) Insert(ctx context.Context, label labeler.BarrierLabel) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(label)
	if err != nil {
		return fmt.Errorf("marshal barrier label: %w", err)
	}
	_, err = r.db.ExecContext(ctx, insertBarrierLabel,
		label.Symbol, label.EntryTime, label.HorizonMs, label.EntryPrice,
		label.TPBps, label.SLBps, label.EventType, label.LabelLong, label.LabelShort, payload)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return nil
		}
		return fmt.Errorf("insert barrier label: %w", err)
	}
	return nil
}

// InsertBatch stores labels atomically, skipping conflicts in SQL.
func (r *barriersRepo) InsertBatch(ctx context.Context, labels []labeler.BarrierLabel) error {
	if len(labels) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(labels)/1000+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin barrier label batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertBarrierLabel+` ON CONFLICT (symbol, entry_time, horizon_ms) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare barrier label batch: %w", err)
	}
	defer stmt.Close()

	for _, label := range labels {
		payload, err := json.Marshal(label)
		if err != nil {
			return fmt.Errorf("marshal barrier label: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			label.Symbol, label.EntryTime, label.HorizonMs, label.EntryPrice,
			label.TPBps, label.SLBps, label.EventType, label.LabelLong, label.LabelShort, payload); err != nil {
			return fmt.Errorf("insert barrier label in batch: %w", err)
		}
	}
	return tx.Commit()
}

// ListBySymbol returns barrier labels for one symbol inside the window,
// entry-time ascending.
func (r *barriersRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]labeler.BarrierLabel, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	toMs := tr.ToMs
	if toMs == 0 {
		toMs = int64(1) << 62
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.QueryxContext(ctx, `
		SELECT payload FROM barrier_labels
		WHERE symbol = $1 AND entry_time >= $2 AND entry_time <= $3
		ORDER BY entry_time ASC
		LIMIT $4`,
		symbol, tr.FromMs, toMs, limit)
	if err != nil {
		return nil, fmt.Errorf("list barrier labels: %w", err)
	}
	defer rows.Close()

	var out []labeler.BarrierLabel
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan barrier label: %w", err)
		}
		var label labeler.BarrierLabel
		if err := json.Unmarshal(payload, &label); err != nil {
			return nil, fmt.Errorf("decode barrier label payload: %w", err)
		}
		out = append(out, label)
	}
	return out, rows.Err()
}

// Count reports the stored label total.
func (r *barriersRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM barrier_labels`); err != nil {
		return 0, fmt.Errorf("count barrier labels: %w", err)
	}
	return n, nil
}
