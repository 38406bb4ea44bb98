// Package store persists battle transcripts and dialog utterances in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/e7canasta/tilefeed/internal/battle"
	"github.com/e7canasta/tilefeed/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id          TEXT PRIMARY KEY,
	opponent    TEXT NOT NULL,
	level       INTEGER NOT NULL,
	trainer     INTEGER NOT NULL,
	start_time  TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	closed_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transcript_entries (
	transcript_id TEXT NOT NULL,
	idx           INTEGER NOT NULL,
	time          TEXT NOT NULL,
	line          TEXT NOT NULL,
	PRIMARY KEY (transcript_id, idx),
	FOREIGN KEY (transcript_id) REFERENCES transcripts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS utterances (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	time        TEXT NOT NULL,
	text        TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);
`

// ErrNotFound is returned by Get for an unknown transcript id.
var ErrNotFound = errors.New("store: transcript not found")

// Store is the SQLite persistence layer. It implements battle.Exporter.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	// One writer; the processing goroutine is the only caller that writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Export implements battle.Exporter. Re-exporting an id replaces it.
func (s *Store) Export(ctx context.Context, t *battle.Transcript) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, t.ID); err != nil {
		return fmt.Errorf("store: replace transcript: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transcripts (id, opponent, level, trainer, start_time, outcome, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Opponent, t.Level, t.Trainer, t.StartTime, t.Outcome.String(),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transcript_entries (transcript_id, idx, time, line) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare entries: %w", err)
	}
	defer stmt.Close()
	for i, e := range t.Entries {
		if _, err := stmt.ExecContext(ctx, t.ID, i, e.Time, e.Line); err != nil {
			return fmt.Errorf("store: insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Get loads one transcript with its entries.
func (s *Store) Get(ctx context.Context, id string) (*battle.Transcript, error) {
	var (
		t       battle.Transcript
		outcome string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, opponent, level, trainer, start_time, outcome FROM transcripts WHERE id = ?`, id,
	).Scan(&t.ID, &t.Opponent, &t.Level, &t.Trainer, &t.StartTime, &outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: query transcript: %w", err)
	}
	t.Outcome, _ = battle.ParseOutcome(outcome)

	rows, err := s.db.QueryContext(ctx,
		`SELECT time, line FROM transcript_entries WHERE transcript_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("store: query entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e battle.Entry
		if err := rows.Scan(&e.Time, &e.Line); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		t.Entries = append(t.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: entries: %w", err)
	}
	return &t, nil
}

// Summary is one row of List
type Summary struct {
	ID       string
	Opponent string
	Level    int
	Trainer  bool
	Outcome  battle.Outcome
	ClosedAt time.Time
}

// List returns the most recently closed transcripts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = battle.DefaultHistorySize
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, opponent, level, trainer, outcome, closed_at
		 FROM transcripts ORDER BY closed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum               Summary
			outcome, closedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.Opponent, &sum.Level, &sum.Trainer, &outcome, &closedAt); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		sum.Outcome, _ = battle.ParseOutcome(outcome)
		sum.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RecordUtterance appends a finished dialog utterance.
func (s *Store) RecordUtterance(ctx context.Context, u types.Utterance) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances (time, text, recorded_at) VALUES (?, ?, ?)`,
		u.Time, u.Text, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert utterance: %w", err)
	}
	return nil
}

// Utterances returns the last limit utterances, oldest first. A limit <= 0
// returns all of them.
func (s *Store) Utterances(ctx context.Context, limit int) ([]types.Utterance, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, text FROM (SELECT id, time, text FROM utterances ORDER BY id DESC LIMIT ?) ORDER BY id`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: utterances: %w", err)
	}
	defer rows.Close()

	var out []types.Utterance
	for rows.Next() {
		var u types.Utterance
		if err := rows.Scan(&u.Time, &u.Text); err != nil {
			return nil, fmt.Errorf("store: scan utterance: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
