// Package sink stores matches of a scan in Postgres.
package sink

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/PhucNguyen204/evtxgrep/internal/search"
	"github.com/PhucNguyen204/evtxgrep/pkg/emit"
	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres writes one scans row per run and one matches row per match.
type Postgres struct {
	db     *sql.DB
	scanID uuid.UUID
	now    func() time.Time
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping db")
	}
	return New(db), nil
}

// New wraps an open database with a fresh scan id.
func New(db *sql.DB) *Postgres {
	return &Postgres{db: db, scanID: uuid.New(), now: time.Now}
}

func (p *Postgres) ScanID() uuid.UUID { return p.scanID }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate executes the embedded SQL files in lexicographic order. Each
// file may hold several statements separated by ';'.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", name)
		}
		for _, chunk := range strings.Split(string(b), ";") {
			stmt := strings.TrimSpace(chunk)
			if stmt == "" {
				continue
			}
			if _, err := p.db.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "exec migration %s", name)
			}
		}
		log.Debug().Str("migration", name).Msg("applied")
	}
	return nil
}

// Begin records the start of a scan.
func (p *Postgres) Begin(ctx context.Context, inputs []string, predicate string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO scans(scan_id, started_at, inputs, predicate) VALUES ($1,$2,$3,$4)`,
		p.scanID.String(), p.now().UTC(), pq.Array(inputs), predicate)
	return errors.Wrap(err, "insert scan")
}

// SaveMatch stores one emitted match. Record ids beyond BIGINT are
// rejected for that record only.
func (p *Postgres) SaveMatch(ctx context.Context, rec *evtx.Record, info emit.Info) error {
	if rec.ID > math.MaxInt64 {
		return errors.Wrapf(search.ErrRejected, "record id %d does not fit record_id", rec.ID)
	}
	var created sql.NullTime
	if !rec.Timestamp.IsZero() {
		created = sql.NullTime{Time: rec.Timestamp.UTC(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO matches(scan_id, record_id, time_created, event_id, serialized) VALUES ($1,$2,$3,$4,$5)`,
		p.scanID.String(), int64(rec.ID), created, rec.EventID, info.Serialized)
	return errors.Wrap(err, "insert match")
}

// Finish stores the final counters of the scan. A non-nil runErr marks
// the scan as failed.
func (p *Postgres) Finish(ctx context.Context, stats search.Stats, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE scans SET finished_at=$2, records=$3, matched=$4, skipped=$5, error=$6 WHERE scan_id=$1`,
		p.scanID.String(), p.now().UTC(), stats.Records, stats.Matched, stats.Skipped, msg)
	return errors.Wrap(err, "finish scan")
}
