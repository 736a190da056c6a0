// Package audit records every gateway operation — reads, writes, failures,
// and blocks — in an append-only trail. Audit failures never block the
// operation being audited.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Result classifies the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultBlocked Result = "blocked"
	ResultPreview Result = "preview"
)

// Event is a single entry in the append-only audit trail.
type Event struct {
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	UserID        string         `json:"user_id"`
	Operation     string         `json:"operation"`
	Platform      string         `json:"platform,omitempty"`
	AccountID     string         `json:"account_id,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Result        Result         `json:"result"`
	Reason        string         `json:"reason,omitempty"`
	SnapshotID    string         `json:"snapshot_id,omitempty"`
	DurationMS    int64          `json:"duration_ms,omitempty"`
}

// Sink persists audit events. Implementations must be safe for concurrent use
// and must never update or delete — immutability is enforced at the interface
// level.
type Sink interface {
	Append(ctx context.Context, event Event) error
	Close() error
}

// Logger fans audit events out to its sinks. A sink failure is logged and
// swallowed so the audited operation proceeds regardless.
type Logger struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewLogger creates an audit logger over the given sinks.
func NewLogger(logger *slog.Logger, sinks ...Sink) *Logger {
	return &Logger{sinks: sinks, logger: logger}
}

// LogReadOperation records a successful read-only operation.
func (l *Logger) LogReadOperation(ctx context.Context, userID, operation, accountID string, params map[string]any) {
	l.emit(ctx, Event{
		UserID:     userID,
		Operation:  operation,
		AccountID:  accountID,
		Parameters: params,
		Result:     ResultSuccess,
	})
}

// LogWriteOperation records an executed write, linking it to its snapshot.
func (l *Logger) LogWriteOperation(ctx context.Context, userID, operation, platform, accountID, snapshotID string, params map[string]any, took time.Duration) {
	l.emit(ctx, Event{
		UserID:     userID,
		Operation:  operation,
		Platform:   platform,
		AccountID:  accountID,
		Parameters: params,
		Result:     ResultSuccess,
		SnapshotID: snapshotID,
		DurationMS: took.Milliseconds(),
	})
}

// LogFailedOperation records a write that reached the platform and failed.
func (l *Logger) LogFailedOperation(ctx context.Context, userID, operation, platform, accountID, reason string, params map[string]any) {
	l.emit(ctx, Event{
		UserID:     userID,
		Operation:  operation,
		Platform:   platform,
		AccountID:  accountID,
		Parameters: params,
		Result:     ResultFailure,
		Reason:     reason,
	})
}

// LogBlockedOperation records a request the safety pipeline refused before
// any platform call — vague intent, cap violation, authorization denial.
func (l *Logger) LogBlockedOperation(ctx context.Context, userID, operation, accountID, reason string, params map[string]any) {
	l.emit(ctx, Event{
		UserID:     userID,
		Operation:  operation,
		AccountID:  accountID,
		Parameters: params,
		Result:     ResultBlocked,
		Reason:     reason,
	})
}

// LogApprovalEvent records approval lifecycle transitions (preview issued,
// approved, rejected, expired).
func (l *Logger) LogApprovalEvent(ctx context.Context, userID, operation, accountID, stage string) {
	l.emit(ctx, Event{
		UserID:    userID,
		Operation: operation,
		AccountID: accountID,
		Result:    ResultPreview,
		Reason:    stage,
	})
}

func (l *Logger) emit(ctx context.Context, event Event) {
	event.Timestamp = time.Now().UTC()
	event.CorrelationID = CorrelationID(ctx)

	for _, sink := range l.sinks {
		if err := sink.Append(ctx, event); err != nil {
			l.logger.ErrorContext(ctx, "audit sink append failed",
				slog.String("operation", event.Operation),
				slog.String("error", err.Error()),
			)
		}
	}

	l.logger.InfoContext(ctx, "audit event",
		slog.String("operation", event.Operation),
		slog.String("user_id", event.UserID),
		slog.String("result", string(event.Result)),
		slog.String("correlation_id", event.CorrelationID),
	)
}

// Close closes all sinks, returning the first error.
func (l *Logger) Close() error {
	var first error
	for _, sink := range l.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id to the context so every audit
// event and log line in one pipeline run shares it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID extracts the correlation id, or "" when none was attached.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
