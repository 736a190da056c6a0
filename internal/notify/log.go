package notify

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the structured log. Always registered so
// deployments without a webhook still surface events somewhere.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-backed sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, rec Record) error {
	attrs := []any{
		slog.String("type", string(rec.Type)),
		slog.String("priority", rec.Priority.String()),
		slog.String("account_id", rec.AccountID),
		slog.String("message", rec.Message),
	}
	if rec.Priority >= PriorityHigh {
		s.logger.WarnContext(ctx, "notification", attrs...)
	} else {
		s.logger.InfoContext(ctx, "notification", attrs...)
	}
	return nil
}
