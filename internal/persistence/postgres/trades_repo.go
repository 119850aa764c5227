package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/markout/internal/backtest"
	"github.com/sawpanic/markout/internal/persistence"
)

// tradesRepo implements persistence.TradeStore.
type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradeStore creates the Postgres-backed backtest trade store.
func NewTradeStore(db *sqlx.DB, timeout time.Duration) persistence.TradeStore {
	return &tradesRepo{db: db, timeout: timeout}
}

// InsertRun stores every trade of one backtest run atomically. Re-running
// under the same run id replaces nothing and duplicates nothing.
func (r *tradesRepo) InsertRun(ctx context.Context, runID string, trades []backtest.Trade) error {
	if runID == "" {
		return fmt.Errorf("empty run id")
	}
	if len(trades) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(trades)/1000+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trade batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(run_id, symbol, entry_time, exit_time, action, prediction, realized_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, symbol, entry_time) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare trade batch: %w", err)
	}
	defer stmt.Close()

	for _, trade := range trades {
		if _, err := stmt.ExecContext(ctx,
			runID, trade.Symbol, trade.EntryTime, trade.ExitTime,
			trade.Action, trade.Prediction, trade.RealizedPct); err != nil {
			return fmt.Errorf("insert trade in batch: %w", err)
		}
	}
	return tx.Commit()
}

// ListByRun returns a run's trades, entry-time ascending.
func (r *tradesRepo) ListByRun(ctx context.Context, runID string) ([]backtest.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT symbol, entry_time, exit_time, action, prediction, realized_pct
		FROM backtest_trades
		WHERE run_id = $1
		ORDER BY entry_time ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []backtest.Trade
	for rows.Next() {
		var t backtest.Trade
		if err := rows.Scan(&t.Symbol, &t.EntryTime, &t.ExitTime, &t.Action, &t.Prediction, &t.RealizedPct); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count reports the stored trade total across runs.
func (r *tradesRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM backtest_trades`); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}
