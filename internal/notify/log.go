package notify

import (
	"context"
	"log/slog"
)

// LogSink writes notifications to the structured log. It is the sink used
// when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) Deliver(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification",
		"id", n.ID,
		"kind", n.Kind,
		"recipient", n.Recipient,
		"subject", n.Subject,
	)
	return nil
}
