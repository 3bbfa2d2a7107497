// Package taskruntime drives the task lifecycle: it turns user actions and
// fired timers into registry transitions and the notifications tied to them.
package taskruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/cheerup/internal/characters"
	"github.com/ent0n29/cheerup/internal/chat"
	"github.com/ent0n29/cheerup/internal/dispatch"
	"github.com/ent0n29/cheerup/internal/duration"
	"github.com/ent0n29/cheerup/internal/journal"
	"github.com/ent0n29/cheerup/internal/observability"
	"github.com/ent0n29/cheerup/internal/policy"
	"github.com/ent0n29/cheerup/internal/tasks"
)

// maxDurationMS is the longest window that still fits a time.Duration.
const maxDurationMS = math.MaxInt64 / int64(time.Millisecond)

type Answer string

const (
	AnswerYes    Answer = dispatch.ActionYes
	AnswerNo     Answer = dispatch.ActionNo
	AnswerExtend Answer = dispatch.ActionExtend
	AnswerManual Answer = dispatch.ActionManual
)

type Options struct {
	Registry      *tasks.Registry
	Catalog       *characters.Catalog
	Dispatcher    *dispatch.Dispatcher
	Journal       journal.Store
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	ExtendDefault time.Duration
	// FireTimeout bounds the notification work done for one fired timer.
	FireTimeout time.Duration
}

type Service struct {
	registry      *tasks.Registry
	catalog       *characters.Catalog
	dispatcher    *dispatch.Dispatcher
	journal       journal.Store
	metrics       *observability.Metrics
	logger        *slog.Logger
	extendDefault time.Duration
	fireTimeout   time.Duration

	mu             sync.Mutex
	pendingAbandon map[string]string // user id -> task id
}

type StartRequest struct {
	UserID      string `json:"user_id"`
	ChannelID   string `json:"channel_id"`
	PersonaID   string `json:"persona_id"`
	DurationMS  int64  `json:"duration_ms"`
	Description string `json:"description"`
}

// Result is what a lifecycle action produced: the task as of the transition
// and the message that was sent for it, if any.
type Result struct {
	Task    tasks.Task    `json:"task"`
	Message *chat.Message `json:"message,omitempty"`
}

type Status struct {
	Active            bool        `json:"active"`
	Task              *tasks.Task `json:"task,omitempty"`
	RemainingMS       int64       `json:"remaining_ms"`
	RemainingText     string      `json:"remaining"`
	UpcomingReminders int         `json:"upcoming_reminders"`
	Text              string      `json:"text"`
}

func New(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, errors.New("task registry is required")
	}
	if opts.Catalog == nil || opts.Catalog.Len() == 0 {
		return nil, errors.New("character catalog is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Journal == nil {
		opts.Journal = journal.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ExtendDefault <= 0 {
		opts.ExtendDefault = 30 * time.Minute
	}
	if opts.FireTimeout <= 0 {
		opts.FireTimeout = 2 * time.Minute
	}

	s := &Service{
		registry:       opts.Registry,
		catalog:        opts.Catalog,
		dispatcher:     opts.Dispatcher,
		journal:        opts.Journal,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With("component", "taskruntime"),
		extendDefault:  opts.ExtendDefault,
		fireTimeout:    opts.FireTimeout,
		pendingAbandon: make(map[string]string),
	}
	s.registry.SetFireHandler(s.handleFire)
	return s, nil
}

// RequestTask is the entry point of a new task. Without duration text the
// user is asked to pick one of the fixed durations; otherwise the text is
// parsed and the user is asked to pick a persona.
func (s *Service) RequestTask(userID, description, durationText string) (Directive, error) {
	userID = strings.TrimSpace(userID)
	description = strings.TrimSpace(description)
	if userID == "" || description == "" {
		return Directive{}, errors.New("user_id and description are required")
	}
	if cur, ok := s.registry.Get(userID); ok {
		return Directive{}, fmt.Errorf("%w: %q", tasks.ErrTaskExists, cur.Description)
	}

	if strings.TrimSpace(durationText) == "" {
		return Directive{
			Kind:        DirectivePickDuration,
			UserID:      userID,
			Description: description,
			Prompt:      "How long do you want to give yourself?",
			Options:     append([]Option(nil), durationChoices...),
		}, nil
	}

	ms := duration.Millis(durationText)
	if ms <= 0 {
		return Directive{}, fmt.Errorf("%w: %q", ErrInvalidDuration, durationText)
	}
	return s.personaDirective(userID, description, ms), nil
}

// ChooseDuration accepts one of the fixed duration choices.
func (s *Service) ChooseDuration(userID, description, choice string) (Directive, error) {
	userID = strings.TrimSpace(userID)
	description = strings.TrimSpace(description)
	if userID == "" || description == "" {
		return Directive{}, errors.New("user_id and description are required")
	}
	choice = strings.TrimSpace(choice)
	valid := false
	for _, opt := range durationChoices {
		if opt.Value == choice {
			valid = true
			break
		}
	}
	if !valid {
		return Directive{}, fmt.Errorf("%w: %q is not an offered choice", ErrInvalidDuration, choice)
	}
	if cur, ok := s.registry.Get(userID); ok {
		return Directive{}, fmt.Errorf("%w: %q", tasks.ErrTaskExists, cur.Description)
	}
	return s.personaDirective(userID, description, duration.Millis(choice)), nil
}

func (s *Service) personaDirective(userID, description string, ms int64) Directive {
	return Directive{
		Kind:        DirectivePickPersona,
		UserID:      userID,
		Description: description,
		DurationMS:  ms,
		Prompt:      "Who should keep you company?",
		Options:     personaOptions(s.catalog.List()),
	}
}

// Start begins the active window once a persona is chosen. A generation
// failure leaves the task running and is returned alongside the result.
func (s *Service) Start(ctx context.Context, req StartRequest) (Result, error) {
	if req.DurationMS <= 0 {
		return Result{}, fmt.Errorf("%w: duration must be positive", ErrInvalidDuration)
	}
	if req.DurationMS > maxDurationMS {
		return Result{}, fmt.Errorf("%w: duration is too long", ErrInvalidDuration)
	}
	persona, err := s.catalog.Get(req.PersonaID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnknownPersona, err)
	}

	task, err := s.registry.Create(tasks.CreateRequest{
		UserID:      req.UserID,
		ChannelID:   req.ChannelID,
		Description: req.Description,
		Persona:     persona,
		Duration:    time.Duration(req.DurationMS) * time.Millisecond,
	})
	if err != nil {
		return Result{}, err
	}
	s.afterTransition(string(tasks.EventTaskCreated))
	s.logger.Info("task started",
		"user_id", task.UserID,
		"task_id", task.ID,
		"persona", persona.ID,
		"window", duration.Format(task.Window()),
		"reminders", len(task.ReminderAt),
		"description", policy.LogSafe(task.Description),
	)

	return s.notify(ctx, dispatch.Notification{Kind: dispatch.KindStart, Task: task}, task)
}

// AnswerOutcome applies the user's answer to the outcome prompt. Yes, no and
// manual remove the task before the reply is generated, so a failed
// generation never brings the task back.
func (s *Service) AnswerOutcome(ctx context.Context, userID, description string, answer Answer, payload string) (Result, error) {
	userID = strings.TrimSpace(userID)
	payload = strings.TrimSpace(payload)

	var (
		kind    dispatch.Kind
		outcome journal.Outcome
	)
	switch answer {
	case AnswerYes:
		kind, outcome = dispatch.KindCongratulate, journal.OutcomeCompleted
	case AnswerNo:
		kind, outcome = dispatch.KindConsole, journal.OutcomeNotCompleted
	case AnswerManual:
		if payload == "" {
			return Result{}, fmt.Errorf("%w: manual answer needs text", ErrInvalidAnswer)
		}
		kind, outcome = dispatch.KindReaction, journal.OutcomeManual
	case AnswerExtend:
		return s.extend(ctx, userID, description, payload)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAnswer, answer)
	}

	task, err := s.registry.Complete(userID, description, tasks.StateAwaitingOutcome)
	if err != nil {
		return Result{}, err
	}
	s.clearPendingAbandon(userID)
	s.afterTransition(string(tasks.EventTaskFinished))
	s.record(ctx, task, outcome, payload)
	s.logger.Info("task finished",
		"user_id", task.UserID,
		"task_id", task.ID,
		"outcome", string(outcome),
		"extensions", task.Extensions,
	)

	return s.notify(ctx, dispatch.Notification{Kind: kind, Task: task, Note: payload}, task)
}

func (s *Service) extend(ctx context.Context, userID, description, payload string) (Result, error) {
	extra := s.extendDefault
	if payload != "" {
		extra = duration.Parse(payload)
		if extra <= 0 {
			return Result{}, fmt.Errorf("%w: %q", ErrInvalidDuration, payload)
		}
	}

	task, err := s.registry.ExtendMatching(userID, description, extra, tasks.StateAwaitingOutcome)
	if err != nil {
		return Result{}, err
	}
	s.afterTransition(string(tasks.EventTaskExtended))
	s.logger.Info("task extended",
		"user_id", task.UserID,
		"task_id", task.ID,
		"generation", task.Generation,
		"window", duration.Format(extra),
	)

	return s.notify(ctx, dispatch.Notification{Kind: dispatch.KindExtend, Task: task}, task)
}

// FinishEarly closes the window now and posts the outcome prompt.
func (s *Service) FinishEarly(ctx context.Context, userID string) (Result, error) {
	task, err := s.registry.FinishEarly(userID)
	if err != nil {
		return Result{}, err
	}
	s.afterTransition(string(tasks.EventWindowClosed))
	return s.notify(ctx, dispatch.Notification{Kind: dispatch.KindOutcomePrompt, Task: task}, task)
}

// Status reports the user's current task without changing anything.
func (s *Service) Status(userID string) Status {
	task, ok := s.registry.Get(userID)
	if !ok {
		return Status{Text: "You have no active task."}
	}
	now := s.registry.Now()
	remaining := task.Remaining(now)
	st := Status{
		Active:            true,
		Task:              &task,
		RemainingMS:       remaining.Milliseconds(),
		RemainingText:     duration.Format(remaining),
		UpcomingReminders: task.UpcomingReminders(now),
	}
	switch task.State {
	case tasks.StateAwaitingOutcome:
		st.Text = fmt.Sprintf("**%s**: time is up, waiting for your answer.", task.Description)
	default:
		st.Text = fmt.Sprintf("**%s**: %s remaining.", task.Description, st.RemainingText)
	}
	return st
}

// RequestAbandon opens the confirm/cancel step for the user's task.
func (s *Service) RequestAbandon(userID string) (Directive, error) {
	userID = strings.TrimSpace(userID)
	task, ok := s.registry.Get(userID)
	if !ok {
		return Directive{}, tasks.ErrTaskNotFound
	}

	s.mu.Lock()
	s.pendingAbandon[userID] = task.ID
	s.mu.Unlock()

	return Directive{
		Kind:        DirectiveConfirmAbandon,
		UserID:      userID,
		Description: task.Description,
		Prompt:      fmt.Sprintf("Really give up on **%s**? This cannot be undone.", task.Description),
		Options: []Option{
			{Value: AbandonConfirm, Label: "Give up"},
			{Value: AbandonCancel, Label: "Keep going"},
		},
	}, nil
}

// ConfirmAbandon tears down the task named by the pending confirmation.
func (s *Service) ConfirmAbandon(ctx context.Context, userID string) (Result, error) {
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	taskID, ok := s.pendingAbandon[userID]
	delete(s.pendingAbandon, userID)
	s.mu.Unlock()
	if !ok {
		return Result{}, ErrNoPendingAbandon
	}

	task, err := s.registry.AbandonMatching(userID, taskID)
	if err != nil {
		return Result{}, err
	}
	s.afterTransition(string(tasks.EventTaskAbandoned))
	s.record(ctx, task, journal.OutcomeAbandoned, "")
	s.logger.Info("task abandoned", "user_id", task.UserID, "task_id", task.ID)

	return s.notify(ctx, dispatch.Notification{Kind: dispatch.KindAbandon, Task: task}, task)
}

func (s *Service) CancelAbandon(userID string) error {
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingAbandon[userID]; !ok {
		return ErrNoPendingAbandon
	}
	delete(s.pendingAbandon, userID)
	return nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]journal.Entry, error) {
	return s.journal.History(ctx, strings.TrimSpace(userID), limit)
}

func (s *Service) Events(userID string, limit int) []tasks.Event {
	return s.registry.ListEvents(userID, limit)
}

func (s *Service) Characters() []characters.Character {
	return s.catalog.List()
}

// Close stops every pending timer and the journal.
func (s *Service) Close() error {
	s.registry.Close()
	return s.journal.Close()
}

// handleFire is installed as the registry's timer callback. A fire that no
// longer names the current active window is dropped without output.
func (s *Service) handleFire(ref tasks.TimerRef) {
	ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
	defer cancel()

	log := s.logger.With("user_id", ref.UserID, "kind", string(ref.Kind), "generation", ref.Generation)

	var n dispatch.Notification
	switch ref.Kind {
	case tasks.TimerReminder:
		task, ok := s.registry.Validate(ref)
		if !ok {
			s.metrics.IncStaleFire(string(ref.Kind))
			log.Debug("dropped stale timer")
			return
		}
		n = dispatch.Notification{Kind: dispatch.KindReminder, Task: task, Remaining: task.Remaining(s.registry.Now())}
	case tasks.TimerTerminal:
		task, err := s.registry.CloseWindow(ref)
		if err != nil {
			s.metrics.IncStaleFire(string(ref.Kind))
			log.Debug("dropped stale timer", "err", err)
			return
		}
		s.afterTransition(string(tasks.EventWindowClosed))
		n = dispatch.Notification{Kind: dispatch.KindOutcomePrompt, Task: task}
	default:
		log.Warn("unknown timer kind")
		return
	}

	if _, err := s.dispatcher.Dispatch(ctx, n); err != nil {
		log.Error("notification failed", "task_id", n.Task.ID, "err", err)
	}
}

func (s *Service) notify(ctx context.Context, n dispatch.Notification, task tasks.Task) (Result, error) {
	res := Result{Task: task}
	msg, err := s.dispatcher.Dispatch(ctx, n)
	if msg.Text != "" {
		res.Message = &msg
	}
	if err != nil {
		s.logger.Warn("notification failed",
			"user_id", task.UserID,
			"task_id", task.ID,
			"kind", string(n.Kind),
			"err", err,
		)
		return res, err
	}
	return res, nil
}

func (s *Service) record(ctx context.Context, task tasks.Task, outcome journal.Outcome, note string) {
	ended := s.registry.Now()
	if task.FinishedAt != nil {
		ended = *task.FinishedAt
	}
	_, err := s.journal.Record(ctx, journal.Entry{
		UserID:      task.UserID,
		TaskID:      task.ID,
		Description: task.Description,
		PersonaID:   task.Persona.ID,
		Outcome:     outcome,
		Note:        note,
		Extensions:  task.Extensions,
		StartedAt:   task.CreatedAt,
		EndedAt:     ended,
	})
	if err != nil {
		s.logger.Error("journal write failed", "user_id", task.UserID, "task_id", task.ID, "err", err)
	}
}

func (s *Service) afterTransition(event string) {
	s.metrics.IncTaskEvent(event)
	s.metrics.SetActiveTasks(s.registry.ActiveCount())
}

func (s *Service) clearPendingAbandon(userID string) {
	s.mu.Lock()
	delete(s.pendingAbandon, userID)
	s.mu.Unlock()
}
