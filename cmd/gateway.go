package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wakit/pkg/bus"
	"wakit/pkg/config"
	"wakit/pkg/connection"
	"wakit/pkg/evolution"
	"wakit/pkg/gateway"
	"wakit/pkg/roster"
	"wakit/pkg/webhook"

	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the webhook gateway",
	Long:  "Serves the Evolution API webhook endpoint, routes deliveries to the enabled handlers and exposes health, readiness and status endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, appLogger, err := loadRuntime()
		if err != nil {
			fmt.Println(err)
			return
		}
		log := appLogger.With("component", "cmd.gateway")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runGateway(runCtx, cfg, appLogger); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) error {
	log := appLogger.With("component", "cmd.gateway")

	client, err := newClient(cfg, appLogger)
	if err != nil {
		return err
	}

	if cfg.Evolution.AutoInitialize {
		go autoInitialize(ctx, client, appLogger)
	}

	events := bus.NewMessageBus()
	defer events.Close()

	p, err := buildPipeline(ctx, cfg, client, events, appLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("Failed to close handler resources", "error", err)
		}
	}()

	groups := roster.NewCache(client, time.Duration(cfg.Roster.TTLSeconds)*time.Second, cfg.Roster.Size, appLogger)

	svc, err := gateway.NewService(cfg, gateway.Deps{
		Dispatcher: p.dispatcher,
		Registry:   p.registry,
		Checker:    client,
		Events:     events,
		Groups:     groups,
	}, appLogger)
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	log.Info("Gateway started",
		"instance", client.Instance(),
		"handlers", handlerNames(p.registry),
		"inbound_policy", cfg.Webhook.InboundPolicy,
	)
	return svc.Run(ctx)
}

// autoInitialize creates the instance when missing and walks the operator through QR
// pairing while the webhook server is already accepting deliveries.
func autoInitialize(ctx context.Context, client *evolution.Client, log *slog.Logger) {
	manager := connection.NewManager(client, connection.Options{}, log)

	result, err := manager.Initialize(ctx)
	if err != nil {
		log.Error("Instance initialization failed", "error", err)
		return
	}
	if result == connection.ResultOpen {
		return
	}

	if err := manager.EnsureConnected(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Instance is still not connected", "error", err)
	}
}

func handlerNames(registry *webhook.Registry) string {
	registrations := registry.Registrations()
	names := make([]string, 0, len(registrations))
	for _, registration := range registrations {
		names = append(names, registration.Name)
	}

	return strings.Join(names, ",")
}
