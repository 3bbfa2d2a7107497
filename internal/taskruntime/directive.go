package taskruntime

import (
	"github.com/ent0n29/cheerup/internal/characters"
)

type DirectiveKind string

const (
	DirectivePickDuration   DirectiveKind = "pick_duration"
	DirectivePickPersona    DirectiveKind = "pick_persona"
	DirectiveConfirmAbandon DirectiveKind = "confirm_abandon"
)

// Option is one selectable entry of a directive.
type Option struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Avatar string `json:"avatar,omitempty"`
}

// Directive tells the driving shell which choice to present next.
type Directive struct {
	Kind        DirectiveKind `json:"kind"`
	UserID      string        `json:"user_id"`
	Description string        `json:"description"`
	DurationMS  int64         `json:"duration_ms,omitempty"`
	Prompt      string        `json:"prompt"`
	Options     []Option      `json:"options"`
}

// Fixed choices offered when a task is requested without a duration.
var durationChoices = []Option{
	{Value: "1h", Label: "1 hour"},
	{Value: "3h", Label: "3 hours"},
	{Value: "5h", Label: "5 hours"},
}

const (
	AbandonConfirm = "confirm"
	AbandonCancel  = "cancel"
)

func personaOptions(list []characters.Character) []Option {
	out := make([]Option, 0, len(list))
	for _, c := range list {
		out = append(out, Option{Value: c.ID, Label: c.Label, Avatar: c.Avatar})
	}
	return out
}
