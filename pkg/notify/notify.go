// Package notify delivers operator alerts raised by webhook handlers.
package notify

import (
	"context"
	"log/slog"
)

// Notifier sends one plain-text alert to the operator.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Log is the fallback Notifier used when no chat sink is configured.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log.With("component", "notify.log")}
}

func (l *Log) Notify(_ context.Context, text string) error {
	l.log.Warn("Operator notification", "text", text)
	return nil
}
