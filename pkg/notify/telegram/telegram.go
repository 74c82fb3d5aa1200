package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"wakit/pkg/config"
)

const messagePreviewLimit = 240

// Notifier posts operator alerts to one Telegram chat.
type Notifier struct {
	bot    *telego.Bot
	chatID int64
	log    *slog.Logger
}

// NewNotifier validates Telegram configuration and constructs the bot client.
func NewNotifier(cfg config.TelegramConfig, log *slog.Logger, opts ...telego.BotOption) (*Notifier, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("notify.telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify.telegram.chat_id is required")
	}

	if log == nil {
		log = slog.Default()
	}

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Notifier{
		bot:    bot,
		chatID: cfg.ChatID,
		log:    log.With("component", "notify.telegram"),
	}, nil
}

// Notify sends text to the configured chat.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	n.log.Info("Sending notification", "chat_id", n.chatID, "content", previewText(text))
	if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.chatID), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
