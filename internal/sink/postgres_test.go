package sink

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/PhucNguyen204/evtxgrep/internal/search"
	"github.com/PhucNguyen204/evtxgrep/pkg/emit"
	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	p := New(db)
	p.now = func() time.Time { return fixedNow }
	return p, mock
}

func TestMigrate(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scans`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS matches`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS matches_scan_record_idx`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE scans ADD COLUMN IF NOT EXISTS error`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, p.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateFailure(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scans`).WillReturnError(errors.New("permission denied"))

	err := p.Migrate(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "0001_init.sql")
}

func TestScanLifecycle(t *testing.T) {
	p, mock := newMock(t)
	ctx := context.Background()
	id := p.ScanID().String()

	mock.ExpectExec(`INSERT INTO scans`).
		WithArgs(id, fixedNow, sqlmock.AnyArg(), "//Event[System/EventID/text()='4624']").
		WillReturnResult(sqlmock.NewResult(1, 1))
	ts := time.Date(2021, 3, 4, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO matches`).
		WithArgs(id, int64(7), ts, "4624", "<Event/>").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO matches`).
		WithArgs(id, int64(8), nil, "", "<Event/>").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`UPDATE scans SET finished_at`).
		WithArgs(id, fixedNow, int64(10), int64(2), int64(1), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.Begin(ctx, []string{"security.xml"}, "//Event[System/EventID/text()='4624']"))
	require.NoError(t, p.SaveMatch(ctx, &evtx.Record{ID: 7, Timestamp: ts, EventID: "4624"}, emit.Info{RecordID: 7, Serialized: "<Event/>"}))
	require.NoError(t, p.SaveMatch(ctx, &evtx.Record{ID: 8}, emit.Info{RecordID: 8, Serialized: "<Event/>"}))
	require.NoError(t, p.Finish(ctx, search.Stats{Records: 10, Matched: 2, Skipped: 1}, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMatchError(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO matches`).WillReturnError(sql.ErrConnDone)

	err := p.SaveMatch(context.Background(), &evtx.Record{ID: 1}, emit.Info{})
	require.True(t, errors.Is(err, sql.ErrConnDone))
}

func TestSaveMatchRejectsHugeRecordID(t *testing.T) {
	p, mock := newMock(t)

	err := p.SaveMatch(context.Background(), &evtx.Record{ID: math.MaxInt64 + 1}, emit.Info{})
	require.True(t, errors.Is(err, search.ErrRejected))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRecordsFailure(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`UPDATE scans SET finished_at`).
		WithArgs(p.ScanID().String(), fixedNow, int64(3), int64(1), int64(0), "security.xml: read xml: EOF").
		WillReturnResult(sqlmock.NewResult(0, 1))

	runErr := errors.New("security.xml: read xml: EOF")
	require.NoError(t, p.Finish(context.Background(), search.Stats{Records: 3, Matched: 1}, runErr))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIsASearchSink(t *testing.T) {
	var _ search.Sink = (*Postgres)(nil)
}
