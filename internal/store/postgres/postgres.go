package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/flockd/flockd/internal/store"
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worker_events(
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			worker_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_events_worker ON worker_events(worker_id);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_events_kind ON worker_events(kind);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) RecordEvent(ctx context.Context, e store.Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO worker_events(kind, worker_id, pid, detail, occurred_at)
		VALUES($1, $2, $3, $4, $5);`,
		e.Kind, e.WorkerID, e.PID, nullable(e.Detail), e.OccurredAt.UTC())
	return err
}

func (p *DB) RecentEvents(ctx context.Context, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT kind, worker_id, pid, detail, occurred_at
		FROM worker_events ORDER BY id DESC LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Event
	for rows.Next() {
		var e store.Event
		var detail sql.NullString
		if err := rows.Scan(&e.Kind, &e.WorkerID, &e.PID, &detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *DB) Close() error { return p.db.Close() }

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
