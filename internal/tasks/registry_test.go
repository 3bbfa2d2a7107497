package tasks

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/cheerup/internal/characters"
	"github.com/ent0n29/cheerup/internal/clock"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixedPlanner struct {
	offsets []time.Duration
}

func (p fixedPlanner) Offsets(time.Duration) []time.Duration {
	return append([]time.Duration(nil), p.offsets...)
}

type fireRecorder struct {
	mu    sync.Mutex
	fires []TimerRef
}

func (f *fireRecorder) record(ref TimerRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fires = append(f.fires, ref)
}

func (f *fireRecorder) all() []TimerRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TimerRef(nil), f.fires...)
}

func newTestRegistry(offsets ...time.Duration) (*Registry, *clock.Fake, *fireRecorder) {
	clk := clock.NewFake(testStart)
	r := NewRegistry(clk, fixedPlanner{offsets: offsets})
	rec := &fireRecorder{}
	r.SetFireHandler(rec.record)
	return r, clk, rec
}

func persona() characters.Character {
	return characters.Character{ID: "rean", Label: "Rean Schwarzer", Persona: "Kind instructor."}
}

func create(t *testing.T, r *Registry, user, desc string, d time.Duration) Task {
	t.Helper()
	task, err := r.Create(CreateRequest{UserID: user, ChannelID: "c1", Description: desc, Persona: persona(), Duration: d})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return task
}

func TestCreateArmsTimers(t *testing.T) {
	r, clk, rec := newTestRegistry(20 * time.Minute)
	task := create(t, r, "u1", "write report", time.Hour)

	if task.State != StateActive {
		t.Fatalf("State = %q, want %q", task.State, StateActive)
	}
	if !task.EndTime.Equal(testStart.Add(time.Hour)) {
		t.Fatalf("EndTime = %v, want %v", task.EndTime, testStart.Add(time.Hour))
	}
	if len(task.ReminderAt) != 1 || !task.ReminderAt[0].Equal(testStart.Add(20*time.Minute)) {
		t.Fatalf("ReminderAt = %v", task.ReminderAt)
	}
	if clk.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", clk.Pending())
	}

	clk.Advance(time.Hour)
	fires := rec.all()
	if len(fires) != 2 {
		t.Fatalf("fires = %d, want 2", len(fires))
	}
	if fires[0].Kind != TimerReminder || fires[1].Kind != TimerTerminal {
		t.Fatalf("fire kinds = %s,%s", fires[0].Kind, fires[1].Kind)
	}
	if fires[1].Description != "write report" || fires[1].Generation != task.Generation {
		t.Fatalf("terminal ref = %+v, want description and generation of task", fires[1])
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	r, _, _ := newTestRegistry()
	first := create(t, r, "u1", "first", time.Hour)

	_, err := r.Create(CreateRequest{UserID: "u1", Description: "second", Persona: persona(), Duration: 2 * time.Hour})
	if !errors.Is(err, ErrTaskExists) {
		t.Fatalf("Create() duplicate error = %v, want ErrTaskExists", err)
	}
	got, ok := r.Get("u1")
	if !ok {
		t.Fatalf("Get() missing task")
	}
	if got.Description != first.Description || !got.EndTime.Equal(first.EndTime) || got.Generation != first.Generation {
		t.Fatalf("existing task modified: %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	r, _, _ := newTestRegistry()
	bad := []CreateRequest{
		{Description: "x", Duration: time.Hour},
		{UserID: "u", Duration: time.Hour},
		{UserID: "u", Description: "x"},
	}
	for i, req := range bad {
		if _, err := r.Create(req); err == nil {
			t.Fatalf("case %d: Create() error = nil, want error", i)
		}
	}
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
}

func TestExtendRestartsWindowFromNow(t *testing.T) {
	r, clk, rec := newTestRegistry(10 * time.Minute)
	before := create(t, r, "u1", "essay", time.Hour)

	clk.Advance(40 * time.Minute)
	extended, err := r.Extend("u1", 30*time.Minute)
	if err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	now := testStart.Add(40 * time.Minute)
	if !extended.EndTime.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("EndTime = %v, want %v", extended.EndTime, now.Add(30*time.Minute))
	}
	if extended.EndTime.Equal(before.EndTime.Add(30 * time.Minute)) {
		t.Fatalf("EndTime is additive onto old end")
	}
	if extended.Generation == before.Generation {
		t.Fatalf("Generation unchanged after extend")
	}
	if extended.Persona.ID != before.Persona.ID || extended.Extensions != 1 {
		t.Fatalf("extended task = %+v", extended)
	}

	firesBefore := len(rec.all())
	clk.Advance(2 * time.Hour)
	for _, ref := range rec.all()[firesBefore:] {
		if ref.Generation != extended.Generation {
			t.Fatalf("old timer fired after extend: %+v", ref)
		}
	}
}

func TestExtendFromAwaitingOutcome(t *testing.T) {
	r, clk, rec := newTestRegistry()
	create(t, r, "u1", "essay", time.Hour)
	clk.Advance(time.Hour)

	fires := rec.all()
	if len(fires) != 1 {
		t.Fatalf("fires = %d, want 1", len(fires))
	}
	terminal := fires[0]
	if _, err := r.CloseWindow(terminal); err != nil {
		t.Fatalf("CloseWindow() error = %v", err)
	}

	task, err := r.Extend("u1", 30*time.Minute)
	if err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	if task.State != StateActive {
		t.Fatalf("State = %q, want active", task.State)
	}
	if _, err := r.CloseWindow(terminal); !errors.Is(err, ErrStaleTask) {
		t.Fatalf("stale CloseWindow() error = %v, want ErrStaleTask", err)
	}
	if got, _ := r.Get("u1"); got.State != StateActive {
		t.Fatalf("stale fire changed state to %q", got.State)
	}
}

func TestExtendMissing(t *testing.T) {
	r, _, _ := newTestRegistry()
	if _, err := r.Extend("ghost", time.Hour); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Extend() error = %v, want ErrTaskNotFound", err)
	}
}

func TestExtendMatchingGuards(t *testing.T) {
	r, clk, rec := newTestRegistry()
	create(t, r, "u1", "laundry", time.Hour)

	if _, err := r.ExtendMatching("u1", "dishes", time.Hour); !errors.Is(err, ErrStaleTask) {
		t.Fatalf("ExtendMatching(wrong description) error = %v, want ErrStaleTask", err)
	}
	if _, err := r.ExtendMatching("u1", "", time.Hour); !errors.Is(err, ErrStaleTask) {
		t.Fatalf("ExtendMatching(empty description) error = %v, want ErrStaleTask", err)
	}
	if _, err := r.ExtendMatching("u1", "laundry", time.Hour, StateAwaitingOutcome); !errors.Is(err, ErrInvalidTaskState) {
		t.Fatalf("ExtendMatching(active) error = %v, want ErrInvalidTaskState", err)
	}

	clk.Advance(time.Hour)
	if _, err := r.CloseWindow(rec.all()[0]); err != nil {
		t.Fatalf("CloseWindow() error = %v", err)
	}
	got, err := r.ExtendMatching("u1", "laundry", 30*time.Minute, StateAwaitingOutcome)
	if err != nil {
		t.Fatalf("ExtendMatching() error = %v", err)
	}
	if got.State != StateActive || got.Extensions != 1 {
		t.Fatalf("extended task = %+v", got)
	}
}

func TestIdleEventHistoryIsBounded(t *testing.T) {
	r, _, _ := newTestRegistry()
	r.idleHistoryMax = 2

	for _, user := range []string{"u1", "u2", "u3"} {
		create(t, r, user, "laundry", time.Hour)
		if _, err := r.Abandon(user); err != nil {
			t.Fatalf("Abandon(%s) error = %v", user, err)
		}
	}
	create(t, r, "u4", "dishes", time.Hour)

	if got := r.ListEvents("u1", 0); len(got) != 0 {
		t.Fatalf("ListEvents(u1) = %d events, want evicted", len(got))
	}
	for _, user := range []string{"u2", "u3", "u4"} {
		if got := r.ListEvents(user, 0); len(got) == 0 {
			t.Fatalf("ListEvents(%s) is empty, want retained history", user)
		}
	}

	// A returning user leaves the idle list and cannot be evicted while active.
	create(t, r, "u2", "again", time.Hour)
	for _, user := range []string{"u5", "u6"} {
		create(t, r, user, "laundry", time.Hour)
		if _, err := r.Abandon(user); err != nil {
			t.Fatalf("Abandon(%s) error = %v", user, err)
		}
	}
	if got := r.ListEvents("u2", 0); len(got) == 0 {
		t.Fatalf("ListEvents(u2) evicted while task is active")
	}
	if got := r.ListEvents("u3", 0); len(got) != 0 {
		t.Fatalf("ListEvents(u3) = %d events, want evicted", len(got))
	}
}

func TestCompleteChecksDescriptionAndState(t *testing.T) {
	r, clk, _ := newTestRegistry()
	create(t, r, "u1", "laundry", time.Hour)

	if _, err := r.Complete("u1", "dishes"); !errors.Is(err, ErrStaleTask) {
		t.Fatalf("Complete(wrong description) error = %v, want ErrStaleTask", err)
	}
	if _, err := r.Complete("u1", "laundry", StateAwaitingOutcome); !errors.Is(err, ErrInvalidTaskState) {
		t.Fatalf("Complete(active) error = %v, want ErrInvalidTaskState", err)
	}

	clk.Advance(30 * time.Minute)
	done, err := r.Complete("u1", "laundry")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if done.State != StateFinished || done.FinishedAt == nil {
		t.Fatalf("completed task = %+v", done)
	}
	if _, ok := r.Get("u1"); ok {
		t.Fatalf("task still present after Complete")
	}
	if clk.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0 after Complete", clk.Pending())
	}
	if _, err := r.Complete("u1", "laundry"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("second Complete() error = %v, want ErrTaskNotFound", err)
	}
}

func TestAbandonStopsTimers(t *testing.T) {
	r, clk, rec := newTestRegistry(5*time.Minute, 10*time.Minute)
	create(t, r, "u1", "gym", time.Hour)
	if _, err := r.Abandon("u1"); err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}
	clk.Advance(3 * time.Hour)
	if n := len(rec.all()); n != 0 {
		t.Fatalf("fires after abandon = %d, want 0", n)
	}
	if _, err := r.Abandon("u1"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("second Abandon() error = %v, want ErrTaskNotFound", err)
	}
}

func TestAbandonMatchingRejectsReplacedTask(t *testing.T) {
	r, _, _ := newTestRegistry()
	first := create(t, r, "u1", "gym", time.Hour)
	if _, err := r.Abandon("u1"); err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}
	create(t, r, "u1", "gym", time.Hour)

	if _, err := r.AbandonMatching("u1", first.ID); !errors.Is(err, ErrStaleTask) {
		t.Fatalf("AbandonMatching(old id) error = %v, want ErrStaleTask", err)
	}
	if _, ok := r.Get("u1"); !ok {
		t.Fatalf("replacement task was removed")
	}
}

func TestValidateRejectsReplacedTask(t *testing.T) {
	clk := clock.NewFake(testStart)
	r := NewRegistry(clk, fixedPlanner{offsets: []time.Duration{time.Minute}})
	var captured []TimerRef
	r.SetFireHandler(func(ref TimerRef) { captured = append(captured, ref) })

	create(t, r, "u1", "read", time.Hour)
	if _, err := r.Abandon("u1"); err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}
	create(t, r, "u1", "read", time.Hour)
	clk.Advance(time.Minute)
	if len(captured) != 1 {
		t.Fatalf("captured = %d, want 1", len(captured))
	}
	if _, ok := r.Validate(captured[0]); !ok {
		t.Fatalf("Validate(current reminder) = false, want true")
	}

	stale := captured[0]
	stale.Generation--
	if _, ok := r.Validate(stale); ok {
		t.Fatalf("Validate(previous generation) = true, want false")
	}
	stale = captured[0]
	stale.Description = "write"
	if _, ok := r.Validate(stale); ok {
		t.Fatalf("Validate(other description) = true, want false")
	}
}

func TestFinishEarly(t *testing.T) {
	r, clk, rec := newTestRegistry(10 * time.Minute)
	create(t, r, "u1", "code review", time.Hour)
	task, err := r.FinishEarly("u1")
	if err != nil {
		t.Fatalf("FinishEarly() error = %v", err)
	}
	if task.State != StateAwaitingOutcome {
		t.Fatalf("State = %q, want awaiting_outcome", task.State)
	}
	clk.Advance(2 * time.Hour)
	if n := len(rec.all()); n != 0 {
		t.Fatalf("fires after FinishEarly = %d, want 0", n)
	}
	if _, err := r.FinishEarly("u1"); !errors.Is(err, ErrInvalidTaskState) {
		t.Fatalf("second FinishEarly() error = %v, want ErrInvalidTaskState", err)
	}
}

func TestRemainingAndEvents(t *testing.T) {
	r, clk, _ := newTestRegistry(30 * time.Minute)
	create(t, r, "u1", "plan", 2*time.Hour)
	clk.Advance(45 * time.Minute)
	task, _ := r.Get("u1")
	if got := task.Remaining(clk.Now()); got != 75*time.Minute {
		t.Fatalf("Remaining() = %v, want 75m", got)
	}
	if got := task.UpcomingReminders(clk.Now()); got != 0 {
		t.Fatalf("UpcomingReminders() = %d, want 0", got)
	}

	events := r.ListEvents("u1", 0)
	if len(events) == 0 || events[len(events)-1].Type != EventTaskCreated {
		t.Fatalf("events = %+v, want task_created last", events)
	}
	if got := r.ListEvents("u1", 1); len(got) != 1 {
		t.Fatalf("ListEvents(limit 1) = %d, want 1", len(got))
	}
}

func TestUsersAreIndependent(t *testing.T) {
	r, clk, rec := newTestRegistry()
	create(t, r, "u1", "a", time.Hour)
	create(t, r, "u2", "b", 2*time.Hour)
	if r.ActiveCount() != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", r.ActiveCount())
	}
	if _, err := r.Abandon("u1"); err != nil {
		t.Fatalf("Abandon(u1) error = %v", err)
	}
	clk.Advance(3 * time.Hour)
	fires := rec.all()
	if len(fires) != 1 || fires[0].UserID != "u2" {
		t.Fatalf("fires = %+v, want only u2 terminal", fires)
	}
}
