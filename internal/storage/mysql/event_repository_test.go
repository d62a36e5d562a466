package mysql

import (
	"context"
	"regexp"
	"testing"
	"time"

	"GhostSignal-Chain/internal/activity"
	"GhostSignal-Chain/internal/ledger"
	"GhostSignal-Chain/internal/scoring"

	"github.com/DATA-DOG/go-sqlmock"
)

var eventRowColumns = []string{"seq", "id", "type", "agent_id", "commitment_id", "occurred_at", "tx_id", "block_height", "simulated", "fatal", "error", "outcome", "amount", "payload"}

func TestAppendWritesEventRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO activity_events")).
		WithArgs(uint64(3), "evt-3", "commit", "Alpha", "c-1", ts.UnixNano(), "sim-abc", uint64(0), true, false, nil, "", int64(100), `{"binding_hash":"ff"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSQLEventRepositoryWithDB(db)
	err = repo.Append(context.Background(), activity.Event{
		ID:           "evt-3",
		Seq:          3,
		Type:         activity.TypeCommit,
		AgentID:      "Alpha",
		CommitmentID: "c-1",
		Timestamp:    ts,
		Receipt:      &ledger.Receipt{TxID: "sim-abc", Simulated: true},
		Amount:       100,
		Payload:      map[string]any{"binding_hash": "ff"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSinceScansEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(eventRowColumns).
		AddRow(uint64(4), "evt-4", "verify", "Alpha", "c-1", ts.UnixNano(), "0xabc", uint64(12), false, false, nil, "win", int64(0), nil).
		AddRow(uint64(5), "evt-5", "reveal", "Bravo", "c-2", ts.UnixNano(), "", uint64(0), false, true, "rejected", "", int64(0), `{"pair":"ETH/USD"}`)
	mock.ExpectQuery(regexp.QuoteMeta("FROM activity_events WHERE seq > ? ORDER BY seq ASC LIMIT ?")).
		WithArgs(uint64(3), 10).
		WillReturnRows(rows)

	repo := NewSQLEventRepositoryWithDB(db)
	events, err := repo.Since(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first, second := events[0], events[1]
	if first.Receipt == nil || first.Receipt.BlockHeight != 12 || first.Outcome != scoring.OutcomeWin || !first.Timestamp.Equal(ts) {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if second.Receipt != nil || !second.Fatal || second.Error != "rejected" || second.Payload["pair"] != "ETH/USD" {
		t.Fatalf("unexpected second event: %+v", second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMigrationsApplyPendingFiles(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS activity_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("0001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := NewSQLEventRepositoryWithDB(db).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMigrationsSkipAppliedVersions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestParseDSNForcesParseTime(t *testing.T) {
	cfg, err := parseDSN("ghost:secret@tcp(127.0.0.1:3306)/ghostsignal")
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	if !cfg.ParseTime || cfg.Loc != time.UTC || cfg.DBName != "ghostsignal" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := parseDSN("  "); err == nil {
		t.Fatalf("expected empty dsn to fail")
	}
}
