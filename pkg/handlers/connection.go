package handlers

import (
	"context"
	"fmt"

	"wakit/pkg/evolution"
	"wakit/pkg/webhook"
)

// RegisterConnection logs connection state changes and, when a notifier is configured,
// alerts the operator once an instance drops to close.
func RegisterConnection(reg *webhook.Registry, deps Deps) error {
	log := deps.logger("connection")

	reg.Register(webhook.Select(webhook.CategoryConnectionUpdate), "connection", func(ctx context.Context, ev webhook.Event) error {
		if ev.Connection == nil {
			return nil
		}
		update := ev.Connection

		log.Info("Connection state changed",
			"instance", update.Instance,
			"state", update.State,
			"status_reason", update.StatusReason,
		)

		if update.State != evolution.StateClose || deps.Notifier == nil {
			return nil
		}
		notice := fmt.Sprintf("⚠️ WhatsApp instance %q disconnected (reason %d). Scan a new QR code to relink it.", update.Instance, update.StatusReason)
		if err := deps.Notifier.Notify(ctx, notice); err != nil {
			return fmt.Errorf("notify disconnect: %w", err)
		}
		return nil
	})
	return nil
}
