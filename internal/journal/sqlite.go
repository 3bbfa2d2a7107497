package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS task_journal (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	description  TEXT NOT NULL,
	persona_id   TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	note         TEXT NOT NULL DEFAULT '',
	extensions   INTEGER NOT NULL DEFAULT 0,
	pii_redacted INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL,
	ended_at     DATETIME NOT NULL,
	recorded_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_journal_user_recorded ON task_journal (user_id, recorded_at);
`

// SQLiteStore persists the journal in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// journal table exists. The caller is responsible for calling Close.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, entry Entry) (Entry, error) {
	entry = prepare(entry)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_journal
			(id, user_id, task_id, description, persona_id, outcome, note, extensions, pii_redacted, started_at, ended_at, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		entry.ID, entry.UserID, entry.TaskID, entry.Description, entry.PersonaID,
		string(entry.Outcome), entry.Note, entry.Extensions, entry.PIIRedacted,
		entry.StartedAt.UTC(), entry.EndedAt.UTC(), entry.RecordedAt.UTC(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("record journal entry: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, task_id, description, persona_id, outcome, note, extensions, pii_redacted, started_at, ended_at, recorded_at
		FROM task_journal WHERE user_id = ? ORDER BY recorded_at DESC, rowid DESC LIMIT ?`,
		userID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TaskID, &e.Description, &e.PersonaID, &outcome, &e.Note, &e.Extensions, &e.PIIRedacted, &e.StartedAt, &e.EndedAt, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }
