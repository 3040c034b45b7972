package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const (
	// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
	timeFormat = "2006-01-02T15:04:05.000Z"
)

// SQLite is a Journal backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the journal at dsn and initializes its schema.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	j := &SQLite{db: db}
	if err := j.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return j, nil
}

// initDB applies PRAGMAs and creates the schema. It is idempotent.
func (j *SQLite) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := j.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transfers (
			id          TEXT PRIMARY KEY,
			destination TEXT NOT NULL,
			provider    TEXT NOT NULL,
			variant     TEXT NOT NULL,
			state       TEXT NOT NULL,
			bytes       INTEGER NOT NULL DEFAULT 0,
			parts       INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			finished_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_transfers_started ON transfers(started_at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, ?)`,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (j *SQLite) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Begin implements Journal.
func (j *SQLite) Begin(ctx context.Context, rec *Record) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO transfers (id, destination, provider, variant, state, bytes, parts, error, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Destination, rec.Provider, rec.Variant, string(rec.State),
		rec.Bytes, rec.Parts, rec.Error, rec.StartedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Finish implements Journal.
func (j *SQLite) Finish(ctx context.Context, rec *Record) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE transfers SET state = ?, bytes = ?, parts = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(rec.State), rec.Bytes, rec.Parts, rec.Error,
		rec.FinishedAt.UTC().Format(timeFormat), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

const selectColumns = `SELECT id, destination, provider, variant, state, bytes, parts, error, started_at, finished_at FROM transfers`

// Get implements Journal.
func (j *SQLite) Get(ctx context.Context, id string) (*Record, error) {
	row := j.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading transfer %s: %w", id, err)
	}
	return rec, nil
}

// List implements Journal.
func (j *SQLite) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		selectColumns+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transfers: %w", err)
	}
	return records, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec      Record
		state    string
		started  string
		finished sql.NullString
	)
	err := s.Scan(&rec.ID, &rec.Destination, &rec.Provider, &rec.Variant, &state,
		&rec.Bytes, &rec.Parts, &rec.Error, &started, &finished)
	if err != nil {
		return nil, err
	}
	rec.State = State(state)
	if rec.StartedAt, err = time.Parse(timeFormat, started); err != nil {
		return nil, fmt.Errorf("parsing started_at %q: %w", started, err)
	}
	if finished.Valid {
		if rec.FinishedAt, err = time.Parse(timeFormat, finished.String); err != nil {
			return nil, fmt.Errorf("parsing finished_at %q: %w", finished.String, err)
		}
	}
	return &rec, nil
}
