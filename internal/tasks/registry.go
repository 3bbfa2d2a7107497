package tasks

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/cheerup/internal/clock"
)

var (
	ErrTaskExists       = errors.New("task already active")
	ErrTaskNotFound     = errors.New("task not found")
	ErrStaleTask        = errors.New("task reference is stale")
	ErrInvalidTaskState = errors.New("invalid task state")
)

const (
	defaultEventHistoryLimit = 64
	defaultIdleHistoryUsers  = 1024
)

// Planner computes reminder offsets for a window.
type Planner interface {
	Offsets(d time.Duration) []time.Duration
}

// FireFunc receives every armed timer when it fires. It is called without the
// registry lock held.
type FireFunc func(ref TimerRef)

type entry struct {
	task      Task
	terminal  clock.Timer
	reminders []clock.Timer
}

// Registry holds at most one task per user. Only Create inserts, only Extend
// re-arms a live task, and only Complete and Abandon delete.
type Registry struct {
	mu sync.RWMutex

	clock   clock.Clock
	planner Planner
	onFire  FireFunc

	entries    map[string]*entry
	generation uint64

	eventsByUser    map[string][]Event
	eventHistoryMax int

	// idleUsers lists users whose task was removed, oldest first. Their
	// history is dropped once more than idleHistoryMax are retained.
	idleUsers      []string
	idleHistoryMax int
}

func NewRegistry(clk clock.Clock, planner Planner) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Registry{
		clock:           clk,
		planner:         planner,
		entries:         make(map[string]*entry),
		eventsByUser:    make(map[string][]Event),
		eventHistoryMax: defaultEventHistoryLimit,
		idleHistoryMax:  defaultIdleHistoryUsers,
	}
}

// SetFireHandler installs the callback timers deliver to.
func (r *Registry) SetFireHandler(fn FireFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFire = fn
}

func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

func (r *Registry) Create(req CreateRequest) (Task, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	req.Description = strings.TrimSpace(req.Description)
	if req.UserID == "" {
		return Task{}, errors.New("user_id is required")
	}
	if req.Description == "" {
		return Task{}, errors.New("description is required")
	}
	if req.Duration <= 0 {
		return Task{}, errors.New("duration must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[req.UserID]; ok {
		return Task{}, fmt.Errorf("%w: %q", ErrTaskExists, cur.task.Description)
	}

	now := r.clock.Now()
	r.generation++
	e := &entry{task: Task{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		ChannelID:   req.ChannelID,
		Description: req.Description,
		Persona:     req.Persona,
		State:       StateActive,
		Generation:  r.generation,
		CreatedAt:   now,
	}}
	r.entries[req.UserID] = e
	r.forgetIdleLocked(req.UserID)
	r.armLocked(e, now, req.Duration)

	r.publishLocked(Event{
		Type:        EventTaskCreated,
		UserID:      e.task.UserID,
		TaskID:      e.task.ID,
		Description: e.task.Description,
		State:       e.task.State,
		Generation:  e.task.Generation,
		Detail:      fmt.Sprintf("window %s, %d reminder(s)", req.Duration, len(e.reminders)),
		At:          now,
	})
	return e.task.Clone(), nil
}

// Extend restarts the countdown at now with a window of extra. Every timer of
// the previous window is stopped before the new ones are armed.
func (r *Registry) Extend(userID string, extra time.Duration) (Task, error) {
	return r.extend(userID, nil, extra, nil)
}

// ExtendMatching is Extend guarded like Complete: description must equal the
// stored one and, when states is non-empty, the task must be in one of them.
func (r *Registry) ExtendMatching(userID, description string, extra time.Duration, states ...State) (Task, error) {
	description = strings.TrimSpace(description)
	return r.extend(userID, &description, extra, states)
}

func (r *Registry) extend(userID string, description *string, extra time.Duration, states []State) (Task, error) {
	userID = strings.TrimSpace(userID)
	if extra <= 0 {
		return Task{}, errors.New("extension must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if description != nil && e.task.Description != *description {
		return Task{}, fmt.Errorf("%w: current task is %q", ErrStaleTask, e.task.Description)
	}
	if len(states) > 0 && !stateIn(e.task.State, states) {
		return Task{}, fmt.Errorf("%w: task is %s", ErrInvalidTaskState, e.task.State)
	}
	now := r.clock.Now()
	r.disarmLocked(e, now)
	e.task.State = StateActive
	e.task.Extensions++
	r.armLocked(e, now, extra)

	r.publishLocked(Event{
		Type:        EventTaskExtended,
		UserID:      e.task.UserID,
		TaskID:      e.task.ID,
		Description: e.task.Description,
		State:       e.task.State,
		Generation:  e.task.Generation,
		Detail:      fmt.Sprintf("window restarted at %s for %s", now.Format(time.RFC3339), extra),
		At:          now,
	})
	return e.task.Clone(), nil
}

// CloseWindow handles a fired terminal timer: if ref still names the current
// active window, every timer is stopped and the task moves to
// awaiting_outcome. Otherwise it returns ErrStaleTask and changes nothing.
func (r *Registry) CloseWindow(ref TimerRef) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ref.UserID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if !matches(e.task, ref) || e.task.State != StateActive {
		return Task{}, ErrStaleTask
	}
	r.closeWindowLocked(e, "terminal timer fired")
	return e.task.Clone(), nil
}

// FinishEarly ends the window of an active task before its terminal timer.
func (r *Registry) FinishEarly(userID string) (Task, error) {
	userID = strings.TrimSpace(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if e.task.State != StateActive {
		return Task{}, fmt.Errorf("%w: finish early is only valid in active", ErrInvalidTaskState)
	}
	r.closeWindowLocked(e, "finished early")
	return e.task.Clone(), nil
}

// Validate reports whether ref still names the current active window, and
// returns the task if so. Reminder fires use it before producing output.
func (r *Registry) Validate(ref TimerRef) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[ref.UserID]
	if !ok || !matches(e.task, ref) || e.task.State != StateActive {
		return Task{}, false
	}
	return e.task.Clone(), true
}

// Complete removes the user's task if its description equals description and,
// when states is non-empty, its state is one of them. The removed task is
// returned in the finished state.
func (r *Registry) Complete(userID, description string, states ...State) (Task, error) {
	userID = strings.TrimSpace(userID)
	description = strings.TrimSpace(description)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if e.task.Description != description {
		return Task{}, fmt.Errorf("%w: current task is %q", ErrStaleTask, e.task.Description)
	}
	if len(states) > 0 && !stateIn(e.task.State, states) {
		return Task{}, fmt.Errorf("%w: task is %s", ErrInvalidTaskState, e.task.State)
	}
	return r.removeLocked(e, EventTaskFinished), nil
}

// Abandon removes the user's task regardless of state.
func (r *Registry) Abandon(userID string) (Task, error) {
	return r.AbandonMatching(userID, "")
}

// AbandonMatching removes the user's task only if its id is taskID, or
// unconditionally when taskID is empty.
func (r *Registry) AbandonMatching(userID, taskID string) (Task, error) {
	userID = strings.TrimSpace(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if taskID != "" && e.task.ID != taskID {
		return Task{}, fmt.Errorf("%w: task was replaced", ErrStaleTask)
	}
	return r.removeLocked(e, EventTaskAbandoned), nil
}

// Get is a read-only lookup.
func (r *Registry) Get(userID string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.TrimSpace(userID)]
	if !ok {
		return Task{}, false
	}
	return e.task.Clone(), true
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) ListEvents(userID string, limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := r.eventsByUser[strings.TrimSpace(userID)]
	if len(events) == 0 {
		return []Event{}
	}
	start := 0
	if limit > 0 && limit < len(events) {
		start = len(events) - limit
	}
	out := make([]Event, len(events)-start)
	copy(out, events[start:])
	return out
}

// Close stops every pending timer. Tasks stay readable.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for _, e := range r.entries {
		r.disarmLocked(e, now)
	}
}

// armLocked is the only place timers are created. Each callback captures a
// TimerRef rather than the task itself.
func (r *Registry) armLocked(e *entry, now time.Time, window time.Duration) {
	e.task.StartTime = now
	e.task.EndTime = now.Add(window)
	e.task.ReminderAt = nil

	if r.planner != nil {
		for i, off := range r.planner.Offsets(window) {
			ref := r.refLocked(e, TimerReminder, i)
			e.reminders = append(e.reminders, r.clock.AfterFunc(off, func() { r.fire(ref) }))
			e.task.ReminderAt = append(e.task.ReminderAt, now.Add(off))
		}
	}
	ref := r.refLocked(e, TimerTerminal, 0)
	e.terminal = r.clock.AfterFunc(window, func() { r.fire(ref) })

	if n := len(e.reminders); n > 0 {
		r.publishLocked(Event{
			Type:       EventReminderArmed,
			UserID:     e.task.UserID,
			TaskID:     e.task.ID,
			Generation: e.task.Generation,
			Detail:     fmt.Sprintf("%d reminder(s)", n),
			At:         now,
		})
	}
	r.publishLocked(Event{
		Type:       EventTerminalArmed,
		UserID:     e.task.UserID,
		TaskID:     e.task.ID,
		Generation: e.task.Generation,
		Detail:     "due " + e.task.EndTime.Format(time.RFC3339),
		At:         now,
	})
}

func (r *Registry) refLocked(e *entry, kind TimerKind, index int) TimerRef {
	return TimerRef{
		UserID:      e.task.UserID,
		Description: e.task.Description,
		Generation:  e.task.Generation,
		Kind:        kind,
		Index:       index,
	}
}

// disarmLocked stops all timers and moves the task to a fresh generation, so
// a callback that already escaped Stop fails validation.
func (r *Registry) disarmLocked(e *entry, now time.Time) {
	stopped := 0
	if e.terminal != nil {
		if e.terminal.Stop() {
			stopped++
		}
		e.terminal = nil
	}
	for _, t := range e.reminders {
		if t.Stop() {
			stopped++
		}
	}
	e.reminders = nil
	r.generation++
	e.task.Generation = r.generation
	r.publishLocked(Event{
		Type:       EventTimersCanceled,
		UserID:     e.task.UserID,
		TaskID:     e.task.ID,
		Generation: e.task.Generation,
		Detail:     fmt.Sprintf("%d pending timer(s) stopped", stopped),
		At:         now,
	})
}

func (r *Registry) closeWindowLocked(e *entry, detail string) {
	now := r.clock.Now()
	r.disarmLocked(e, now)
	e.task.State = StateAwaitingOutcome
	r.publishLocked(Event{
		Type:        EventWindowClosed,
		UserID:      e.task.UserID,
		TaskID:      e.task.ID,
		Description: e.task.Description,
		State:       e.task.State,
		Generation:  e.task.Generation,
		Detail:      detail,
		At:          now,
	})
}

func (r *Registry) removeLocked(e *entry, evt EventType) Task {
	now := r.clock.Now()
	r.disarmLocked(e, now)
	delete(r.entries, e.task.UserID)
	e.task.State = StateFinished
	e.task.FinishedAt = &now
	r.publishLocked(Event{
		Type:        evt,
		UserID:      e.task.UserID,
		TaskID:      e.task.ID,
		Description: e.task.Description,
		State:       e.task.State,
		Generation:  e.task.Generation,
		At:          now,
	})
	r.retireLocked(e.task.UserID)
	return e.task.Clone()
}

// retireLocked marks userID idle and evicts the oldest idle histories over
// the limit. A user with a live task is never evicted.
func (r *Registry) retireLocked(userID string) {
	r.forgetIdleLocked(userID)
	r.idleUsers = append(r.idleUsers, userID)
	for r.idleHistoryMax > 0 && len(r.idleUsers) > r.idleHistoryMax {
		oldest := r.idleUsers[0]
		r.idleUsers = r.idleUsers[1:]
		delete(r.eventsByUser, oldest)
	}
}

func (r *Registry) forgetIdleLocked(userID string) {
	for i, id := range r.idleUsers {
		if id == userID {
			r.idleUsers = append(r.idleUsers[:i], r.idleUsers[i+1:]...)
			return
		}
	}
}

func (r *Registry) fire(ref TimerRef) {
	r.mu.RLock()
	fn := r.onFire
	r.mu.RUnlock()
	if fn != nil {
		fn(ref)
	}
}

func (r *Registry) publishLocked(evt Event) {
	userID := evt.UserID
	r.eventsByUser[userID] = append(r.eventsByUser[userID], evt)
	if max := r.eventHistoryMax; max > 0 && len(r.eventsByUser[userID]) > max {
		trimFrom := len(r.eventsByUser[userID]) - max
		r.eventsByUser[userID] = append([]Event(nil), r.eventsByUser[userID][trimFrom:]...)
	}
}

func matches(t Task, ref TimerRef) bool {
	return t.Generation == ref.Generation && t.Description == ref.Description
}

func stateIn(s State, states []State) bool {
	for _, want := range states {
		if s == want {
			return true
		}
	}
	return false
}
