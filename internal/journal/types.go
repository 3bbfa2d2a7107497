// Package journal keeps a history of finished tasks. It never holds live task
// state; the registry remains the only source of truth for running tasks.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/cheerup/internal/policy"
)

type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeNotCompleted Outcome = "not_completed"
	OutcomeManual       Outcome = "manual"
	OutcomeAbandoned    Outcome = "abandoned"
)

// Entry records how one task ended.
type Entry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	PersonaID   string    `json:"persona_id"`
	Outcome     Outcome   `json:"outcome"`
	Note        string    `json:"note,omitempty"`
	Extensions  int       `json:"extensions"`
	PIIRedacted bool      `json:"pii_redacted"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Store persists and lists journal entries. History returns the newest
// entries first.
type Store interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
	History(ctx context.Context, userID string, limit int) ([]Entry, error)
	Close() error
}

const defaultHistoryLimit = 20

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return limit
}

// prepare fills generated fields and masks PII in free text.
func prepare(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	desc, descChanged := policy.RedactPII(entry.Description)
	note, noteChanged := policy.RedactPII(entry.Note)
	entry.Description = desc
	entry.Note = note
	entry.PIIRedacted = entry.PIIRedacted || descChanged || noteChanged
	return entry
}
