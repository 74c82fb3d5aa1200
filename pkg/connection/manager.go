// Package connection drives an Evolution instance to the open state: it creates missing
// instances, renders pairing QR codes and polls until the account is linked.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mdp/qrterminal/v3"

	"wakit/pkg/evolution"
)

const (
	defaultAttempts = 3
	defaultDelay    = 30 * time.Second
)

// Results of Initialize. The first three mirror the gateway's own states.
const (
	ResultOpen       = evolution.StateOpen
	ResultConnecting = evolution.StateConnecting
	ResultClose      = evolution.StateClose
	ResultCreated    = "created"
	ResultError      = "error"
)

var ErrNotConnected = errors.New("instance did not reach the open state")

// Gateway is the part of the Evolution client the manager needs.
type Gateway interface {
	Instance() string
	ConnectionState(ctx context.Context) (string, error)
	CreateInstance(ctx context.Context) (evolution.InstanceInfo, error)
	Connect(ctx context.Context) (evolution.QRCode, error)
}

type Options struct {
	// Attempts is how many QR rounds EnsureConnected runs; zero uses 3.
	Attempts int
	// Delay is the wait after each QR for the user to scan it; zero uses 30s.
	Delay time.Duration
	// QROut receives rendered QR codes; nil writes to stdout.
	QROut io.Writer
}

type Manager struct {
	gw       Gateway
	log      *slog.Logger
	attempts int
	delay    time.Duration
	qrOut    io.Writer
}

func NewManager(gw Gateway, opts Options, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultDelay
	}
	if opts.QROut == nil {
		opts.QROut = os.Stdout
	}

	return &Manager{
		gw:       gw,
		log:      log.With("component", "connection.manager", "instance", gw.Instance()),
		attempts: opts.Attempts,
		delay:    opts.Delay,
		qrOut:    opts.QROut,
	}
}

// Initialize checks the instance and creates it when the gateway does not know it.
// It returns one of the Result constants; ResultError comes with a non-nil error.
func (m *Manager) Initialize(ctx context.Context) (string, error) {
	m.log.Info("Checking instance")

	state, err := m.gw.ConnectionState(ctx)
	if err != nil {
		return ResultError, fmt.Errorf("check instance: %w", err)
	}

	switch state {
	case evolution.StateOpen:
		m.log.Info("Instance online")
		return ResultOpen, nil
	case evolution.StateConnecting:
		m.log.Info("Instance is connecting")
		return ResultConnecting, nil
	case evolution.StateClose:
		m.log.Warn("Instance exists but is disconnected; scan a QR code to link it")
		return ResultClose, nil
	case evolution.StateNotFound:
		m.log.Warn("Instance not found; creating it")
		info, err := m.gw.CreateInstance(ctx)
		if err != nil {
			return ResultError, fmt.Errorf("create instance: %w", err)
		}
		if info.QRCode != "" {
			m.RenderQR(info.QRCode)
		}
		m.log.Info("Instance created", "status", info.Status)
		return ResultCreated, nil
	default:
		return ResultError, fmt.Errorf("unexpected instance state %q", state)
	}
}

// EnsureConnected returns once the instance is open, showing a fresh QR code between
// attempts. It gives up with ErrNotConnected after the configured attempts.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	for attempt := 1; attempt <= m.attempts; attempt++ {
		state, err := m.gw.ConnectionState(ctx)
		if err != nil {
			m.log.Warn("Connection check failed", "attempt", attempt, "error", err)
		} else if state == evolution.StateOpen {
			return nil
		}

		m.log.Info("Connection not available; showing a new QR code",
			"attempt", attempt,
			"attempts", m.attempts,
			"wait", m.delay,
		)
		if state == evolution.StateNotFound {
			if _, err := m.gw.CreateInstance(ctx); err != nil {
				m.log.Error("Failed to create instance", "error", err)
			}
		}

		qr, err := m.gw.Connect(ctx)
		switch {
		case err != nil:
			m.log.Warn("Failed to request QR code", "error", err)
		case qr.Code != "":
			m.RenderQR(qr.Code)
			if qr.PairingCode != "" {
				m.log.Info("Pairing code available", "pairing_code", qr.PairingCode)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}

	state, err := m.gw.ConnectionState(ctx)
	if err == nil && state == evolution.StateOpen {
		return nil
	}
	return fmt.Errorf("%w after %d attempts", ErrNotConnected, m.attempts)
}

// RenderQR draws code as a terminal QR.
func (m *Manager) RenderQR(code string) {
	fmt.Fprintln(m.qrOut)
	qrterminal.GenerateHalfBlock(code, qrterminal.L, m.qrOut)
	fmt.Fprintln(m.qrOut)
}
