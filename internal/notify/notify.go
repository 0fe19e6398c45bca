// Package notify defines the user-facing notification contract. Delivery is
// fire-and-forget; failures are logged, never raised to the caller.
package notify

import (
	"context"
	"log/slog"
)

// Templates used by the services.
const (
	TemplateMergeCompleted = "merge_completed"
	TemplateImportResult   = "import_result"
	TemplateAssignment     = "record_assigned"
)

// Notifier delivers a templated message to a recipient.
type Notifier interface {
	Notify(ctx context.Context, recipient, template string, data map[string]any)
}

// Log is a Notifier that writes notifications to the structured log. It stands
// in for a real delivery channel (email, chat) in development and tests.
type Log struct {
	logger *slog.Logger
}

// Verify *Log satisfies Notifier at compile time.
var _ Notifier = (*Log)(nil)

// NewLog creates a log-backed notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, recipient, template string, data map[string]any) {
	l.logger.Info("notification",
		slog.String("recipient", recipient),
		slog.String("template", template),
		slog.Any("data", data))
}

// Discard is a Notifier that drops every message. Useful in tests.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(context.Context, string, string, map[string]any) {}
