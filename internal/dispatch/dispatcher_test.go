package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/cheerup/internal/characters"
	"github.com/ent0n29/cheerup/internal/chat"
	"github.com/ent0n29/cheerup/internal/tasks"
)

type promptRecorder struct {
	prompts []string
	reply   string
	err     error
}

func (g *promptRecorder) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type outbox struct {
	sent []chat.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg chat.Message) error {
	o.sent = append(o.sent, msg)
	return o.err
}

func sampleTask() tasks.Task {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return tasks.Task{
		UserID:      "u1",
		ChannelID:   "c1",
		Description: "write report",
		Persona: characters.Character{
			ID:      "joshua",
			Label:   "Joshua",
			Persona: "a calm strategist",
			Avatar:  "https://example.com/joshua.png",
		},
		State:     tasks.StateActive,
		StartTime: start,
		EndTime:   start.Add(90 * time.Minute),
	}
}

func TestDispatchStartMentionsUserAndWindow(t *testing.T) {
	gen := &promptRecorder{reply: "  Let's begin.  "}
	box := &outbox{}
	d := New(gen, box, nil, time.Second)

	msg, err := d.Dispatch(context.Background(), Notification{Kind: KindStart, Task: sampleTask()})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if msg.Text != "<@u1> Let's begin." {
		t.Fatalf("Text = %q", msg.Text)
	}
	if msg.SpeakerLabel != "Joshua" || msg.ChannelID != "c1" {
		t.Fatalf("speaker/channel = %q/%q", msg.SpeakerLabel, msg.ChannelID)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(gen.prompts))
	}
	prompt := gen.prompts[0]
	for _, want := range []string{"a calm strategist", `"write report"`, "1h 30m"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q: %q", want, prompt)
		}
	}
	if len(box.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(box.sent))
	}
}

func TestDispatchOutcomePromptSkipsGeneration(t *testing.T) {
	gen := &promptRecorder{reply: "unused"}
	box := &outbox{}
	d := New(gen, box, nil, time.Second)

	msg, err := d.Dispatch(context.Background(), Notification{Kind: KindOutcomePrompt, Task: sampleTask()})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("generator calls = %d, want 0", len(gen.prompts))
	}
	if !strings.Contains(msg.Text, "<@u1>") || !strings.Contains(msg.Text, "write report") {
		t.Fatalf("Text = %q", msg.Text)
	}
	actions := make([]string, 0, len(msg.Controls))
	for _, c := range msg.Controls {
		actions = append(actions, c.Action)
	}
	if got := strings.Join(actions, ","); got != "yes,no,extend,manual" {
		t.Fatalf("controls = %s, want yes,no,extend,manual", got)
	}
}

func TestDispatchReactionIncludesNote(t *testing.T) {
	gen := &promptRecorder{reply: "Nice."}
	d := New(gen, nil, nil, time.Second)

	msg, err := d.Dispatch(context.Background(), Notification{Kind: KindReaction, Task: sampleTask(), Note: "half done"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if msg.Text != "Nice." {
		t.Fatalf("Text = %q, want no mention on reaction", msg.Text)
	}
	if !strings.Contains(gen.prompts[0], `"half done"`) {
		t.Fatalf("prompt missing note: %q", gen.prompts[0])
	}
}

func TestDispatchGenerationFailure(t *testing.T) {
	gen := &promptRecorder{err: errors.New("model offline")}
	box := &outbox{}
	d := New(gen, box, nil, time.Second)

	_, err := d.Dispatch(context.Background(), Notification{Kind: KindCongratulate, Task: sampleTask()})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("error = %v, want ErrGeneration", err)
	}
	if len(box.sent) != 0 {
		t.Fatalf("sent = %d, want 0", len(box.sent))
	}
}

func TestDispatchEmptyGenerationIsFailure(t *testing.T) {
	d := New(&promptRecorder{reply: "   "}, nil, nil, time.Second)
	_, err := d.Dispatch(context.Background(), Notification{Kind: KindConsole, Task: sampleTask()})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("error = %v, want ErrGeneration", err)
	}
}

func TestDispatchDeliveryFailureKeepsMessage(t *testing.T) {
	box := &outbox{err: errors.New("channel gone")}
	d := New(&promptRecorder{reply: "Keep going."}, box, nil, time.Second)

	msg, err := d.Dispatch(context.Background(), Notification{Kind: KindExtend, Task: sampleTask()})
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("error = %v, want ErrDelivery", err)
	}
	if msg.Text != "Keep going." {
		t.Fatalf("Text = %q", msg.Text)
	}
}

func TestBuildPromptCoversEveryGeneratedKind(t *testing.T) {
	for _, kind := range []Kind{KindStart, KindReminder, KindCongratulate, KindConsole, KindReaction, KindExtend, KindAbandon} {
		prompt, err := buildPrompt(Notification{Kind: kind, Task: sampleTask(), Remaining: 20 * time.Minute})
		if err != nil {
			t.Fatalf("buildPrompt(%s) error = %v", kind, err)
		}
		if !strings.HasPrefix(prompt, "You are the character") {
			t.Fatalf("buildPrompt(%s) = %q, want persona preamble", kind, prompt)
		}
	}
	if _, err := buildPrompt(Notification{Kind: KindOutcomePrompt, Task: sampleTask()}); err == nil {
		t.Fatalf("buildPrompt(outcome_prompt) error = nil, want error")
	}
}
