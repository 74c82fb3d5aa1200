// Package forward republishes normalized events to an AMQP topic exchange.
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"wakit/pkg/config"
	"wakit/pkg/webhook"
)

const (
	routingPrefix   = "whatsapp"
	defaultExchange = "whatsapp.events"
	maxDialDelay    = 60 * time.Second
)

// Forwarder ships one event to downstream consumers.
type Forwarder interface {
	Forward(ctx context.Context, ev webhook.Event) error
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes events as persistent JSON messages.
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       publishChannel
	exchange string
	log      *slog.Logger
}

type DialOptions struct {
	RetryAttempts int
	Delay         time.Duration
}

// Dial connects with exponential backoff, declares the topic exchange and opens the
// publishing channel.
func Dial(ctx context.Context, cfg config.AMQPConfig, opts DialOptions, log *slog.Logger) (*AMQP, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("forward.amqp.url is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = defaultExchange
	}
	log = log.With("component", "forward.amqp", "exchange", exchange)

	conn, err := dialWithRetry(ctx, cfg.URL, opts, log)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	forwarder := newAMQP(ch, exchange, log)
	forwarder.conn = conn
	return forwarder, nil
}

func newAMQP(ch publishChannel, exchange string, log *slog.Logger) *AMQP {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &AMQP{ch: ch, exchange: exchange, log: log}
}

func dialWithRetry(ctx context.Context, url string, opts DialOptions, log *slog.Logger) (*amqp.Connection, error) {
	var lastErr error

	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			if attempt > 1 {
				log.Info("Broker connected", "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err
		if attempt == opts.RetryAttempts {
			break
		}

		sleep := min(opts.Delay<<(attempt-1), maxDialDelay)
		log.Warn("Broker dial failed", "attempt", attempt, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("connect to broker after %d attempts: %w", opts.RetryAttempts, lastErr)
}

// RoutingKey is whatsapp.<instance>.<category>. Dots inside the instance name are
// replaced so they do not add topic levels.
func RoutingKey(ev webhook.Event) string {
	instance := strings.ReplaceAll(strings.TrimSpace(ev.InstanceID), ".", "_")
	if instance == "" {
		instance = "unknown"
	}
	return routingPrefix + "." + instance + "." + string(ev.Category())
}

// Forward publishes ev as JSON. Calls are serialized on the single channel.
func (a *AMQP) Forward(ctx context.Context, ev webhook.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	messageID := ev.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	timestamp := time.Now().UTC()
	if ev.Timestamp > 0 {
		timestamp = time.Unix(ev.Timestamp, 0).UTC()
	}
	key := RoutingKey(ev)

	a.mu.Lock()
	defer a.mu.Unlock()

	err = a.ch.PublishWithContext(ctx, a.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Type:         ev.EventType,
		AppId:        ev.InstanceID,
		Timestamp:    timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	a.log.Debug("Event forwarded", "key", key, "message_id", messageID)
	return nil
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.ch.Close()
	if a.conn != nil {
		err = errors.Join(err, a.conn.Close())
	}
	return err
}
