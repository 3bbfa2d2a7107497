package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the journal in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_journal (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			description TEXT NOT NULL,
			persona_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			extensions INTEGER NOT NULL DEFAULT 0,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_journal_user_recorded ON task_journal (user_id, recorded_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, entry Entry) (Entry, error) {
	entry = prepare(entry)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_journal (id, user_id, task_id, description, persona_id, outcome, note, extensions, pii_redacted, started_at, ended_at, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID,
		entry.UserID,
		entry.TaskID,
		entry.Description,
		entry.PersonaID,
		string(entry.Outcome),
		entry.Note,
		entry.Extensions,
		entry.PIIRedacted,
		entry.StartedAt,
		entry.EndedAt,
		entry.RecordedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("record journal entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, task_id, description, persona_id, outcome, note, extensions, pii_redacted, started_at, ended_at, recorded_at
		 FROM task_journal WHERE user_id=$1 ORDER BY recorded_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TaskID, &e.Description, &e.PersonaID, &outcome, &e.Note, &e.Extensions, &e.PIIRedacted, &e.StartedAt, &e.EndedAt, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Outcome = Outcome(outcome)
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
