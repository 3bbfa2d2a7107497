package chat

import (
	"context"
	"log/slog"
)

// LogSender writes messages to a logger. Useful when no client is attached.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("chat message",
		slog.String("channel_id", msg.ChannelID),
		slog.String("user_id", msg.UserID),
		slog.String("speaker", msg.SpeakerLabel),
		slog.String("text", msg.Text),
		slog.Int("controls", len(msg.Controls)),
	)
	return nil
}
