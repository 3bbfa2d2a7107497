package tasks

import (
	"time"

	"github.com/ent0n29/cheerup/internal/characters"
)

type State string

const (
	StateActive          State = "active"
	StateAwaitingOutcome State = "awaiting_outcome"
	StateFinished        State = "finished"
)

// Task is the single timed work item a user is tracking.
type Task struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	ChannelID   string               `json:"channel_id,omitempty"`
	Description string               `json:"description"`
	Persona     characters.Character `json:"persona"`
	State       State                `json:"state"`
	Generation  uint64               `json:"generation"`
	Extensions  int                  `json:"extensions"`
	StartTime   time.Time            `json:"start_time"`
	EndTime     time.Time            `json:"end_time"`
	ReminderAt  []time.Time          `json:"reminder_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
}

type CreateRequest struct {
	UserID      string
	ChannelID   string
	Description string
	Persona     characters.Character
	Duration    time.Duration
}

// TimerKind tells a fired callback what it was armed for.
type TimerKind string

const (
	TimerReminder TimerKind = "reminder"
	TimerTerminal TimerKind = "terminal"
)

// TimerRef is the value every armed callback carries. A fire is acted on only
// if the user's current task still has the same description and generation.
type TimerRef struct {
	UserID      string
	Description string
	Generation  uint64
	Kind        TimerKind
	Index       int
}

type EventType string

const (
	EventTaskCreated    EventType = "task_created"
	EventTaskExtended   EventType = "task_extended"
	EventWindowClosed   EventType = "window_closed"
	EventTaskFinished   EventType = "task_finished"
	EventTaskAbandoned  EventType = "task_abandoned"
	EventReminderArmed  EventType = "reminder_armed"
	EventTerminalArmed  EventType = "terminal_armed"
	EventTimersCanceled EventType = "timers_canceled"
)

type Event struct {
	Type        EventType `json:"type"`
	UserID      string    `json:"user_id"`
	TaskID      string    `json:"task_id"`
	Description string    `json:"description,omitempty"`
	State       State     `json:"state,omitempty"`
	Generation  uint64    `json:"generation,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

func (t Task) Clone() Task {
	out := t
	if t.ReminderAt != nil {
		out.ReminderAt = make([]time.Time, len(t.ReminderAt))
		copy(out.ReminderAt, t.ReminderAt)
	}
	if t.FinishedAt != nil {
		at := *t.FinishedAt
		out.FinishedAt = &at
	}
	return out
}

// Window is the length of the current countdown.
func (t Task) Window() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// Remaining is the time left before the window closes, never negative.
func (t Task) Remaining(now time.Time) time.Duration {
	if t.State != StateActive {
		return 0
	}
	if d := t.EndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// UpcomingReminders counts reminders still due after now.
func (t Task) UpcomingReminders(now time.Time) int {
	if t.State != StateActive {
		return 0
	}
	n := 0
	for _, at := range t.ReminderAt {
		if at.After(now) {
			n++
		}
	}
	return n
}
