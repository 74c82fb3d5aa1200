package handlers

import (
	"context"
	"fmt"
	"strings"

	"wakit/pkg/config"
	"wakit/pkg/evolution"
	"wakit/pkg/webhook"
)

// RegisterPing replies cfg.Reply to any text containing cfg.Trigger.
func RegisterPing(reg *webhook.Registry, cfg config.PingConfig, deps Deps) error {
	if err := requireDeps("ping", map[string]bool{"gateway": deps.Gateway != nil}); err != nil {
		return err
	}
	trigger := strings.ToLower(strings.TrimSpace(cfg.Trigger))
	if trigger == "" {
		return fmt.Errorf("ping handler: trigger is required")
	}
	log := deps.logger("ping")

	reg.Register(webhook.SelectAnyText, "ping", func(ctx context.Context, ev webhook.Event) error {
		if !strings.Contains(strings.ToLower(ev.Body), trigger) {
			return nil
		}

		result, err := deps.gateway(ev).SendText(ctx, evolution.TextMessage{
			Number: ev.RemoteJID,
			Text:   cfg.Reply,
		})
		if err != nil {
			return fmt.Errorf("send ping reply: %w", err)
		}
		log.Info("Ping answered", "remote_jid", ev.RemoteJID, "reply_id", result.MessageID)
		return nil
	})
	return nil
}
