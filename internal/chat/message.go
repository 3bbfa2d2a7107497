// Package chat models outbound bot messages and delivers them to channels.
package chat

import (
	"context"
	"time"
)

// Control is an interactive choice attached to a message, such as a button.
type Control struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	Style  string `json:"style,omitempty"`
}

type Message struct {
	ChannelID     string    `json:"channel_id"`
	UserID        string    `json:"user_id,omitempty"`
	SpeakerLabel  string    `json:"speaker_label"`
	SpeakerAvatar string    `json:"speaker_avatar,omitempty"`
	Text          string    `json:"text"`
	Description   string    `json:"description,omitempty"`
	Controls      []Control `json:"controls,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

// Sender delivers a message to its channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Multi sends to every sender in order and returns the first error.
type Multi []Sender

func (m Multi) Send(ctx context.Context, msg Message) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
