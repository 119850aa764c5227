// Package postgres implements the persistence stores over PostgreSQL
// via sqlx. Query columns carry the fields queries filter on; the full
// label document rides along as JSONB so reads return exactly what the
// labeler emitted.
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is the full DDL, idempotent by construction.
const Schema = `
CREATE TABLE IF NOT EXISTS return_labels (
    symbol           TEXT             NOT NULL,
    entry_time       BIGINT           NOT NULL,
    horizon_ms       BIGINT           NOT NULL,
    entry_price      DOUBLE PRECISION NOT NULL,
    lag_ms           BIGINT           NOT NULL,
    mid_return_pct   DOUBLE PRECISION NOT NULL,
    long_return_pct  DOUBLE PRECISION NOT NULL,
    short_return_pct DOUBLE PRECISION NOT NULL,
    snapshot_id      TEXT             NOT NULL,
    payload          JSONB            NOT NULL,
    created_at       TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (symbol, entry_time, horizon_ms)
);

CREATE INDEX IF NOT EXISTS idx_return_labels_entry_time
    ON return_labels (entry_time);

CREATE TABLE IF NOT EXISTS barrier_labels (
    symbol      TEXT             NOT NULL,
    entry_time  BIGINT           NOT NULL,
    horizon_ms  BIGINT           NOT NULL,
    entry_price DOUBLE PRECISION NOT NULL,
    tp_bps      DOUBLE PRECISION NOT NULL,
    sl_bps      DOUBLE PRECISION NOT NULL,
    event_type  TEXT             NOT NULL,
    label_long  TEXT,
    label_short TEXT,
    payload     JSONB            NOT NULL,
    created_at  TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (symbol, entry_time, horizon_ms)
);

CREATE INDEX IF NOT EXISTS idx_barrier_labels_entry_time
    ON barrier_labels (entry_time);

CREATE TABLE IF NOT EXISTS backtest_trades (
    run_id       TEXT             NOT NULL,
    symbol       TEXT             NOT NULL,
    entry_time   BIGINT           NOT NULL,
    exit_time    BIGINT           NOT NULL,
    action       TEXT             NOT NULL,
    prediction   DOUBLE PRECISION NOT NULL,
    realized_pct DOUBLE PRECISION NOT NULL,
    created_at   TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (run_id, symbol, entry_time)
);

CREATE INDEX IF NOT EXISTS idx_backtest_trades_run
    ON backtest_trades (run_id);
`

// EnsureSchema applies the DDL. Safe to run on every startup.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
