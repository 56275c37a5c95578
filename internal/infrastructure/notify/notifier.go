// Package notify delivers user-facing call notifications.
package notify

import (
	"context"
	"errors"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the log. It is the sink of a headless agent.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note domain.Notification) error {
	n.logger.Infow(note.Title,
		"kind", note.Kind,
		"user_id", note.UserID,
		"call_id", note.CallID,
		"body", note.Body,
	)
	return nil
}

// MultiNotifier fans a notification out to every sink.
type MultiNotifier struct {
	sinks []ports.Notifier
}

func NewMultiNotifier(sinks ...ports.Notifier) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

// Notify delivers to all sinks even when some fail and returns the joined errors.
func (m *MultiNotifier) Notify(ctx context.Context, note domain.Notification) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
