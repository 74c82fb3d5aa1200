package handlers

import (
	"context"
	"fmt"
	"strings"

	"wakit/pkg/config"
	"wakit/pkg/evolution"
	"wakit/pkg/webhook"
)

// RegisterBugReport numbers bug reports raised either by tagging a text message with
// cfg.Tag or by reacting to a message with cfg.Emoji. Each report notifies the operator
// and is acknowledged in the chat.
func RegisterBugReport(reg *webhook.Registry, cfg config.BugReportConfig, deps Deps) error {
	if err := requireDeps("bug report", map[string]bool{
		"gateway":  deps.Gateway != nil,
		"notifier": deps.Notifier != nil,
		"counter":  deps.Bugs != nil,
	}); err != nil {
		return err
	}
	tag := strings.ToLower(strings.TrimSpace(cfg.Tag))
	emoji := strings.TrimSpace(cfg.Emoji)
	log := deps.logger("bug_report")

	report := func(ctx context.Context, ev webhook.Event, summary string) error {
		number := deps.Bugs.Next()
		log.Info("Bug reported", "number", number, "remote_jid", ev.RemoteJID, "message_id", ev.MessageID)

		notice := fmt.Sprintf("🐛 Bug #%d\nfrom: %s\nchat: %s\n\n%s", number, reporter(ev), ev.RemoteJID, summary)
		if err := deps.Notifier.Notify(ctx, notice); err != nil {
			return fmt.Errorf("notify bug #%d: %w", number, err)
		}

		reply := fmt.Sprintf("Bug #%d logged, thanks.", number)
		if _, err := deps.gateway(ev).SendText(ctx, evolution.TextMessage{Number: ev.RemoteJID, Text: reply}); err != nil {
			return fmt.Errorf("acknowledge bug #%d: %w", number, err)
		}
		return nil
	}

	if tag != "" {
		reg.Register(webhook.SelectAnyText, "bug_report.tag", func(ctx context.Context, ev webhook.Event) error {
			if !strings.Contains(strings.ToLower(ev.Body), tag) {
				return nil
			}
			return report(ctx, ev, strings.TrimSpace(ev.Body))
		})
	}

	if emoji != "" {
		reg.Register(webhook.Select(webhook.CategoryReaction), "bug_report.reaction", func(ctx context.Context, ev webhook.Event) error {
			if ev.ReactionEmoji != emoji {
				return nil
			}

			summary := "reaction on message " + ev.ReactionTargetID
			target, err := deps.gateway(ev).GetMessage(ctx, ev.ReactionTargetID)
			if err != nil {
				log.Debug("Reacted message not available", "target_id", ev.ReactionTargetID, "error", err)
			} else if body := strings.TrimSpace(target.Body); body != "" {
				summary = body
			}
			return report(ctx, ev, summary)
		})
	}
	return nil
}

func reporter(ev webhook.Event) string {
	if ev.PushName == "" {
		return ev.Sender()
	}
	return ev.PushName + " (" + ev.Sender() + ")"
}
