// Package dispatch turns "a notification is due" into one generation call and
// one outbound chat message. It keeps no state between calls.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/cheerup/internal/chat"
	"github.com/ent0n29/cheerup/internal/generate"
	"github.com/ent0n29/cheerup/internal/observability"
	"github.com/ent0n29/cheerup/internal/reliability"
	"github.com/ent0n29/cheerup/internal/tasks"
)

var (
	ErrGeneration = errors.New("text generation failed")
	ErrDelivery   = errors.New("message delivery failed")
)

type Kind string

const (
	KindStart         Kind = "start"
	KindReminder      Kind = "reminder"
	KindOutcomePrompt Kind = "outcome_prompt"
	KindCongratulate  Kind = "congratulate"
	KindConsole       Kind = "console"
	KindReaction      Kind = "reaction"
	KindExtend        Kind = "extend"
	KindAbandon       Kind = "abandon"
)

// Outcome prompt actions, echoed back by the shell when the user picks one.
const (
	ActionYes    = "yes"
	ActionNo     = "no"
	ActionExtend = "extend"
	ActionManual = "manual"
)

type Notification struct {
	Kind      Kind
	Task      tasks.Task
	Remaining time.Duration
	Note      string
}

type Dispatcher struct {
	generator generate.Generator
	sender    chat.Sender
	metrics   *observability.Metrics
	timeout   time.Duration
	now       func() time.Time
}

func New(generator generate.Generator, sender chat.Sender, metrics *observability.Metrics, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{
		generator: generator,
		sender:    sender,
		metrics:   metrics,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch produces and sends the message for n. Errors wrap ErrGeneration or
// ErrDelivery; the message is returned even when delivery fails so the caller
// can still show its text.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (chat.Message, error) {
	msg := chat.Message{
		ChannelID:     n.Task.ChannelID,
		UserID:        n.Task.UserID,
		SpeakerLabel:  n.Task.Persona.Label,
		SpeakerAvatar: n.Task.Persona.Avatar,
		Description:   n.Task.Description,
	}

	if n.Kind == KindOutcomePrompt {
		msg.Text = outcomeQuestion(n)
		msg.Controls = outcomeControls()
	} else {
		text, err := d.generate(ctx, n)
		if err != nil {
			d.observe(n.Kind, "generation_error")
			return chat.Message{}, err
		}
		msg.Text = text
		if n.Kind == KindStart || n.Kind == KindReminder {
			msg.Text = mention(n.Task.UserID) + " " + text
		}
	}

	msg.SentAt = d.now()
	if d.sender != nil {
		if err := d.sender.Send(ctx, msg); err != nil {
			d.observe(n.Kind, "delivery_error")
			return msg, fmt.Errorf("%w: %w", ErrDelivery, err)
		}
	}
	d.observe(n.Kind, "sent")
	return msg, nil
}

func (d *Dispatcher) generate(ctx context.Context, n Notification) (string, error) {
	if d.generator == nil {
		return "", fmt.Errorf("%w: no generator configured", ErrGeneration)
	}
	prompt, err := buildPrompt(n)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	started := time.Now()
	text, err := d.generator.Generate(ctx, prompt)
	d.metrics.ObserveGenerationLatency(string(n.Kind), time.Since(started))
	if err != nil {
		d.metrics.IncGeneratorError(generate.Name(d.generator), string(n.Kind), string(reliability.Classify(err)))
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %w", ErrGeneration, generate.ErrEmptyResponse)
	}
	return text, nil
}

func (d *Dispatcher) observe(kind Kind, result string) {
	d.metrics.ObserveNotification(string(kind), result)
}

func outcomeControls() []chat.Control {
	return []chat.Control{
		{Action: ActionYes, Label: "Yes, I finished", Style: "success"},
		{Action: ActionNo, Label: "No, I didn't", Style: "danger"},
		{Action: ActionExtend, Label: "I need more time", Style: "primary"},
		{Action: ActionManual, Label: "Tell you how it went", Style: "secondary"},
	}
}
