package notify

import (
	"context"

	"safewatch/internal/logger"
)

// LogBroadcaster writes messages to the log instead of a transport. It is
// the broadcast backend used when none is configured.
type LogBroadcaster struct{}

func (LogBroadcaster) Send(_ context.Context, msg Message) error {
	logger.WithComponent("broadcast").Info().
		Str("topic", msg.Topic).
		Str("title", msg.Title).
		Str("body", msg.Body).
		Interface("data", msg.Data).
		Msg("alert broadcast (log backend)")
	return nil
}
