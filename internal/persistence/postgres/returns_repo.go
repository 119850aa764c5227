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

const uniqueViolation = "23505"

// returnsRepo implements persistence.ReturnLabelStore.
type returnsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewReturnLabelStore creates the Postgres-backed return label store.
func NewReturnLabelStore(db *sqlx.DB, timeout time.Duration) persistence.ReturnLabelStore {
	return &returnsRepo{db: db, timeout: timeout}
}

const insertReturnLabel = `
	INSERT INTO return_labels
		(symbol, entry_time, horizon_ms, entry_price, lag_ms,
		 mid_return_pct, long_return_pct, short_return_pct, snapshot_id, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Insert stores one label. A duplicate key is a no-op: relabeling the
// same window is routine.
func (r *returnsRepo) Insert(ctx context.Context, label labeler.ReturnLabel) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(label)
	if err != nil {
		return fmt.Errorf("marshal return label: %w", err)
	}
	_, err = r.db.ExecContext(ctx, insertReturnLabel,
		label.Symbol, label.EntryTime, label.HorizonMs, label.EntryPrice, label.LagMs,
		label.MidReturnPct, label.LongReturnPct, label.ShortReturnPct, label.SnapshotID, payload)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return nil
		}
		return fmt.Errorf("insert return label: %w", err)
	}
	return nil
}

// InsertBatch stores labels atomically. Conflicting rows are skipped in
// SQL so one duplicate can't abort the transaction.
func (r *returnsRepo) InsertBatch(ctx context.Context, labels []labeler.ReturnLabel) error {
	if len(labels) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(labels)/1000+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin return label batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertReturnLabel+` ON CONFLICT (symbol, entry_time, horizon_ms) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare return label batch: %w", err)
	}
	defer stmt.Close()

	for _, label := range labels {
		payload, err := json.Marshal(label)
		if err != nil {
			return fmt.Errorf("marshal return label: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			label.Symbol, label.EntryTime, label.HorizonMs, label.EntryPrice, label.LagMs,
			label.MidReturnPct, label.LongReturnPct, label.ShortReturnPct, label.SnapshotID, payload); err != nil {
			return fmt.Errorf("insert return label in batch: %w", err)
		}
	}
	return tx.Commit()
}

// ListBySymbol returns labels for one symbol and horizon inside the
// window, entry-time ascending.
func (r *returnsRepo) ListBySymbol(ctx context.Context, symbol string, horizonMs int64, tr persistence.TimeRange, limit int) ([]labeler.ReturnLabel, error) {
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
		SELECT payload FROM return_labels
		WHERE symbol = $1 AND horizon_ms = $2 AND entry_time >= $3 AND entry_time <= $4
		ORDER BY entry_time ASC
		LIMIT $5`,
		symbol, horizonMs, tr.FromMs, toMs, limit)
	if err != nil {
		return nil, fmt.Errorf("list return labels: %w", err)
	}
	defer rows.Close()

	var out []labeler.ReturnLabel
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan return label: %w", err)
		}
		var label labeler.ReturnLabel
		if err := json.Unmarshal(payload, &label); err != nil {
			return nil, fmt.Errorf("decode return label payload: %w", err)
		}
		out = append(out, label)
	}
	return out, rows.Err()
}

// Count reports the stored label total.
func (r *returnsRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM return_labels`); err != nil {
		return 0, fmt.Errorf("count return labels: %w", err)
	}
	return n, nil
}
