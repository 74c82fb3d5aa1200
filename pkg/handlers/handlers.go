// Package handlers holds the bundled webhook handler modules. Each module has its own
// register function; Register wires every module enabled in configuration.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"wakit/pkg/archive"
	"wakit/pkg/config"
	"wakit/pkg/evolution"
	"wakit/pkg/forward"
	"wakit/pkg/notify"
	"wakit/pkg/transcribe"
	"wakit/pkg/webhook"
)

// Gateway is the slice of the Evolution client handlers call back into.
type Gateway interface {
	SendText(ctx context.Context, msg evolution.TextMessage) (evolution.SendResult, error)
	DownloadMedia(ctx context.Context, record json.RawMessage, convertToMP4 bool) (evolution.Media, error)
	GetMessage(ctx context.Context, messageID string) (webhook.Event, error)
}

// GatewayFor returns a gateway bound to the instance and credential of one event.
type GatewayFor func(instance, apiKey string) Gateway

// Deps are the collaborators shared by handler modules. Each module checks only the
// fields it uses.
type Deps struct {
	Gateway     GatewayFor
	Archive     *archive.Store
	Transcriber transcribe.Transcriber
	Notifier    notify.Notifier
	Forwarder   forward.Forwarder
	Bugs        *Counter
	Log         *slog.Logger
}

func (d Deps) logger(component string) *slog.Logger {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return log.With("component", "handlers."+component)
}

func (d Deps) gateway(ev webhook.Event) Gateway {
	return d.Gateway(ev.InstanceID, ev.APIKey)
}

var errMissingDependency = errors.New("missing dependency")

func requireDeps(module string, checks map[string]bool) error {
	for name, ok := range checks {
		if !ok {
			return fmt.Errorf("%s handler: %w: %s", module, errMissingDependency, name)
		}
	}
	return nil
}

// Register installs every handler module enabled in cfg, in a fixed order.
func Register(reg *webhook.Registry, cfg config.HandlersConfig, deps Deps) error {
	modules := []struct {
		enabled  bool
		register func() error
	}{
		{cfg.Connection.Enabled, func() error { return RegisterConnection(reg, deps) }},
		{cfg.Ping.Enabled, func() error { return RegisterPing(reg, cfg.Ping, deps) }},
		{cfg.AudioArchive.Enabled, func() error { return RegisterAudioArchive(reg, deps) }},
		{cfg.Transcription.Enabled, func() error { return RegisterTranscription(reg, deps) }},
		{cfg.BugReport.Enabled, func() error { return RegisterBugReport(reg, cfg.BugReport, deps) }},
		{cfg.Forward.Enabled, func() error { return RegisterForward(reg, deps) }},
	}

	for _, module := range modules {
		if !module.enabled {
			continue
		}
		if err := module.register(); err != nil {
			return err
		}
	}
	return nil
}

// Counter hands out sequential numbers. It is owned by the application wiring and shared
// by every handler that numbers reports.
type Counter struct {
	mu sync.Mutex
	n  int
}

func (c *Counter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
