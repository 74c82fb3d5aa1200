package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wakit/pkg/archive"
	"wakit/pkg/config"
	"wakit/pkg/evolution"
	"wakit/pkg/forward"
	"wakit/pkg/handlers"
	"wakit/pkg/logger"
	"wakit/pkg/notify"
	"wakit/pkg/notify/telegram"
	"wakit/pkg/transcribe"
	"wakit/pkg/webhook"
)

const (
	brokerDialAttempts = 5
	brokerDialDelay    = time.Second
)

// loadRuntime loads configuration and installs the configured logger as the default.
func loadRuntime() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, appLogger, nil
}

func newClient(cfg *config.Config, log *slog.Logger) (*evolution.Client, error) {
	client, err := evolution.New(cfg.Evolution, log)
	if err != nil {
		return nil, fmt.Errorf("configure evolution client: %w", err)
	}
	return client, nil
}

// pipeline is the registry and dispatcher built from the enabled handler modules.
type pipeline struct {
	registry   *webhook.Registry
	dispatcher *webhook.Dispatcher
	closers    []func() error
}

// buildPipeline wires every enabled handler module. events may be nil.
func buildPipeline(ctx context.Context, cfg *config.Config, client *evolution.Client, events webhook.EventPublisher, log *slog.Logger) (*pipeline, error) {
	p := &pipeline{registry: webhook.NewRegistry()}

	deps, err := p.handlerDeps(ctx, cfg, client, log)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := handlers.Register(p.registry, cfg.Handlers, deps); err != nil {
		p.Close()
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	p.dispatcher = webhook.NewDispatcher(p.registry, webhook.Options{
		DefaultAPIKey: cfg.Evolution.APIKey,
		FromMeOnly:    cfg.Webhook.FromMeOnly(),
		Timeout:       time.Duration(cfg.Webhook.DispatchTimeoutSeconds) * time.Second,
		Concurrent:    cfg.Webhook.Concurrent,
		Concurrency:   cfg.Webhook.Concurrency,
		Events:        events,
	}, log)

	return p, nil
}

func (p *pipeline) handlerDeps(ctx context.Context, cfg *config.Config, client *evolution.Client, log *slog.Logger) (handlers.Deps, error) {
	deps := handlers.Deps{
		Gateway: func(instance, apiKey string) handlers.Gateway {
			return client.For(instance, apiKey)
		},
		Bugs: &handlers.Counter{},
		Log:  log,
	}

	if cfg.Handlers.AudioArchive.Enabled {
		guard, err := archive.NewGuard(cfg.Handlers.AudioArchive.Dir)
		if err != nil {
			return deps, fmt.Errorf("configure audio archive: %w", err)
		}
		deps.Archive = archive.NewStore(guard)
	}

	if cfg.Handlers.Transcription.Enabled {
		transcriber, err := transcribe.New(cfg.Transcription, log)
		if err != nil {
			return deps, fmt.Errorf("configure transcription: %w", err)
		}
		deps.Transcriber = transcriber
	}

	if cfg.Notify.Telegram.Enabled {
		notifier, err := telegram.NewNotifier(cfg.Notify.Telegram, log)
		if err != nil {
			return deps, fmt.Errorf("configure telegram notifier: %w", err)
		}
		deps.Notifier = notifier
	} else {
		deps.Notifier = notify.NewLog(log)
	}

	if cfg.Handlers.Forward.Enabled {
		forwarder, err := forward.Dial(ctx, cfg.Forward.AMQP, forward.DialOptions{
			RetryAttempts: brokerDialAttempts,
			Delay:         brokerDialDelay,
		}, log)
		if err != nil {
			return deps, fmt.Errorf("configure forwarding: %w", err)
		}
		deps.Forwarder = forwarder
		p.closers = append(p.closers, forwarder.Close)
	}

	return deps, nil
}

// Close releases broker connections held by handler modules.
func (p *pipeline) Close() error {
	var errs []error
	for _, closeFn := range p.closers {
		errs = append(errs, closeFn())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// commandClient is the setup shared by one-shot commands.
func commandClient() (*evolution.Client, *slog.Logger, error) {
	cfg, log, err := loadRuntime()
	if err != nil {
		return nil, nil, err
	}
	client, err := newClient(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return client, log, nil
}
