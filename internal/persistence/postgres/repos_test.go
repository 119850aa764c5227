package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/markout/internal/backtest"
	"github.com/sawpanic/markout/internal/labeler"
	"github.com/sawpanic/markout/internal/persistence"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func sampleReturnLabel() labeler.ReturnLabel {
	return labeler.ReturnLabel{
		Type:           "return",
		Symbol:         "BTCUSDT",
		EntryTime:      1_700_000_000_000,
		EntryPrice:     50_000,
		TargetTime:     1_700_000_060_000,
		LagMs:          250,
		HorizonMs:      60_000,
		HorizonMin:     1,
		MidReturnPct:   0.42,
		LongReturnPct:  0.40,
		ShortReturnPct: -0.44,
		SnapshotID:     "BTCUSDT-1700000000000",
	}
}

func TestReturnsRepoInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReturnLabelStore(db, 5*time.Second)

	label := sampleReturnLabel()
	payload, err := json.Marshal(label)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO return_labels").
		WithArgs(label.Symbol, label.EntryTime, label.HorizonMs, label.EntryPrice, label.LagMs,
			label.MidReturnPct, label.LongReturnPct, label.ShortReturnPct, label.SnapshotID, payload).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Insert(context.Background(), label))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnsRepoInsertDuplicateIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReturnLabelStore(db, 5*time.Second)

	mock.ExpectExec("INSERT INTO return_labels").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	require.NoError(t, repo.Insert(context.Background(), sampleReturnLabel()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnsRepoInsertBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReturnLabelStore(db, 5*time.Second)

	first := sampleReturnLabel()
	second := sampleReturnLabel()
	second.EntryTime = first.EntryTime + 5_000

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO return_labels")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertBatch(context.Background(), []labeler.ReturnLabel{first, second}))
	assert.NoError(t, mock.ExpectationsWereMet())

	// Empty batch never touches the database.
	require.NoError(t, repo.InsertBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnsRepoInsertBatchRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReturnLabelStore(db, 5*time.Second)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO return_labels")
	prep.ExpectExec().WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.InsertBatch(context.Background(), []labeler.ReturnLabel{sampleReturnLabel()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert return label in batch")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnsRepoListBySymbol(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReturnLabelStore(db, 5*time.Second)

	label := sampleReturnLabel()
	payload, err := json.Marshal(label)
	require.NoError(t, err)

	// Zero time range and limit fall back to an open window of 1000 rows.
	mock.ExpectQuery("SELECT payload FROM return_labels").
		WithArgs("BTCUSDT", int64(60_000), int64(0), int64(1)<<62, 1000).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := repo.ListBySymbol(context.Background(), "BTCUSDT", 60_000, persistence.TimeRange{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, label, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnsRepoCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReturnLabelStore(db, 5*time.Second)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func sampleBarrierLabel() labeler.BarrierLabel {
	tp := "TP"
	exitTime := int64(1_700_000_030_000)
	exitPrice := 50_500.0
	sl := "SL"
	return labeler.BarrierLabel{
		Type:          "barrier",
		Symbol:        "ETHUSDT",
		EntryTime:     1_700_000_000_000,
		EntryPrice:    3_000,
		HorizonMs:     300_000,
		TPBps:         25,
		SLBps:         25,
		EventType:     "aggTrade",
		SnapshotID:    "ETHUSDT-1700000000000",
		LabelLong:     &tp,
		ExitTimeLong:  &exitTime,
		ExitPriceLong: &exitPrice,
		LabelShort:    &sl,
	}
}

func TestBarriersRepoInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBarrierLabelStore(db, 5*time.Second)

	label := sampleBarrierLabel()
	payload, err := json.Marshal(label)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO barrier_labels").
		WithArgs(label.Symbol, label.EntryTime, label.HorizonMs, label.EntryPrice,
			label.TPBps, label.SLBps, label.EventType, "TP", "SL", payload).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Insert(context.Background(), label))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBarriersRepoInsertDuplicateIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBarrierLabelStore(db, 5*time.Second)

	mock.ExpectExec("INSERT INTO barrier_labels").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	require.NoError(t, repo.Insert(context.Background(), sampleBarrierLabel()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBarriersRepoListBySymbol(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBarrierLabelStore(db, 5*time.Second)

	label := sampleBarrierLabel()
	payload, err := json.Marshal(label)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM barrier_labels").
		WithArgs("ETHUSDT", int64(1_699_999_000_000), int64(1_700_001_000_000), 50).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	tr := persistence.TimeRange{FromMs: 1_699_999_000_000, ToMs: 1_700_001_000_000}
	got, err := repo.ListBySymbol(context.Background(), "ETHUSDT", tr, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, label, got[0])
	require.NotNil(t, got[0].LabelLong)
	assert.Equal(t, "TP", *got[0].LabelLong)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradesRepoInsertRun(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTradeStore(db, 5*time.Second)

	trades := []backtest.Trade{
		{Symbol: "BTCUSDT", EntryTime: 1_700_000_000_000, ExitTime: 1_700_000_060_000, Action: "LONG", Prediction: 0.8, RealizedPct: 0.35},
		{Symbol: "ETHUSDT", EntryTime: 1_700_000_001_000, ExitTime: 1_700_000_061_000, Action: "SHORT", Prediction: -0.6, RealizedPct: 0.12},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO backtest_trades")
	prep.ExpectExec().
		WithArgs("run-1", "BTCUSDT", int64(1_700_000_000_000), int64(1_700_000_060_000), "LONG", 0.8, 0.35).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("run-1", "ETHUSDT", int64(1_700_000_001_000), int64(1_700_000_061_000), "SHORT", -0.6, 0.12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertRun(context.Background(), "run-1", trades))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradesRepoInsertRunRequiresRunID(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewTradeStore(db, 5*time.Second)

	err := repo.InsertRun(context.Background(), "", []backtest.Trade{{Symbol: "BTCUSDT"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run id")
}

func TestTradesRepoListByRun(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTradeStore(db, 5*time.Second)

	rows := sqlmock.NewRows([]string{"symbol", "entry_time", "exit_time", "action", "prediction", "realized_pct"}).
		AddRow("BTCUSDT", int64(1_700_000_000_000), int64(1_700_000_060_000), "LONG", 0.8, 0.35).
		AddRow("ETHUSDT", int64(1_700_000_001_000), int64(1_700_000_061_000), "SHORT", -0.6, 0.12)

	mock.ExpectQuery("SELECT symbol, entry_time, exit_time, action, prediction, realized_pct").
		WithArgs("run-1").
		WillReturnRows(rows)

	got, err := repo.ListByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, "LONG", got[0].Action)
	assert.Equal(t, 0.35, got[0].RealizedPct)
	assert.Equal(t, "SHORT", got[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradesRepoCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTradeStore(db, 5*time.Second)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
