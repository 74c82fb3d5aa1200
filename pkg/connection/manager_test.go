package connection

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wakit/pkg/evolution"
)

type scriptedGateway struct {
	mu       sync.Mutex
	states   []string
	stateErr error
	created  int
	connects int
	qr       evolution.QRCode
}

func (g *scriptedGateway) Instance() string { return "main" }

func (g *scriptedGateway) ConnectionState(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stateErr != nil {
		return "", g.stateErr
	}
	state := g.states[0]
	if len(g.states) > 1 {
		g.states = g.states[1:]
	}
	return state, nil
}

func (g *scriptedGateway) CreateInstance(context.Context) (evolution.InstanceInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
	return evolution.InstanceInfo{Name: "main", Status: "created", QRCode: "2@created"}, nil
}

func (g *scriptedGateway) Connect(context.Context) (evolution.QRCode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connects++
	return g.qr, nil
}

func TestInitializeStates(t *testing.T) {
	tests := []struct {
		state   string
		want    string
		created int
	}{
		{state: "open", want: ResultOpen},
		{state: "connecting", want: ResultConnecting},
		{state: "close", want: ResultClose},
		{state: "not_found", want: ResultCreated, created: 1},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			gw := &scriptedGateway{states: []string{tt.state}}
			var qr bytes.Buffer
			manager := NewManager(gw, Options{QROut: &qr}, nil)

			got, err := manager.Initialize(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.created, gw.created)
			if tt.created > 0 {
				require.NotZero(t, qr.Len(), "expected QR output for a new instance")
			}
		})
	}
}

func TestInitializeErrors(t *testing.T) {
	manager := NewManager(&scriptedGateway{stateErr: errors.New("connection refused")}, Options{QROut: &bytes.Buffer{}}, nil)
	got, err := manager.Initialize(context.Background())
	require.Error(t, err)
	require.Equal(t, ResultError, got)

	manager = NewManager(&scriptedGateway{states: []string{"refused"}}, Options{QROut: &bytes.Buffer{}}, nil)
	got, err = manager.Initialize(context.Background())
	require.Error(t, err)
	require.Equal(t, ResultError, got)
}

func TestEnsureConnectedReturnsWhenOpen(t *testing.T) {
	gw := &scriptedGateway{states: []string{"open"}}
	manager := NewManager(gw, Options{Delay: time.Millisecond, QROut: &bytes.Buffer{}}, nil)

	require.NoError(t, manager.EnsureConnected(context.Background()))
	require.Zero(t, gw.connects)
}

func TestEnsureConnectedShowsQRUntilOpen(t *testing.T) {
	gw := &scriptedGateway{
		states: []string{"close", "connecting", "open"},
		qr:     evolution.QRCode{Code: "2@qr", PairingCode: "ABCD"},
	}
	var qr bytes.Buffer
	manager := NewManager(gw, Options{Attempts: 5, Delay: time.Millisecond, QROut: &qr}, nil)

	require.NoError(t, manager.EnsureConnected(context.Background()))
	require.Equal(t, 2, gw.connects)
	require.NotZero(t, qr.Len())
}

func TestEnsureConnectedGivesUp(t *testing.T) {
	gw := &scriptedGateway{states: []string{"close"}, qr: evolution.QRCode{Code: "2@qr"}}
	manager := NewManager(gw, Options{Attempts: 2, Delay: time.Millisecond, QROut: &bytes.Buffer{}}, nil)

	err := manager.EnsureConnected(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	require.Equal(t, 2, gw.connects)
}

func TestEnsureConnectedHonorsCancellation(t *testing.T) {
	gw := &scriptedGateway{states: []string{"close"}}
	manager := NewManager(gw, Options{Attempts: 3, Delay: time.Hour, QROut: &bytes.Buffer{}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := manager.EnsureConnected(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnsureConnectedCreatesMissingInstance(t *testing.T) {
	gw := &scriptedGateway{states: []string{"not_found", "open"}}
	manager := NewManager(gw, Options{Delay: time.Millisecond, QROut: &bytes.Buffer{}}, nil)

	require.NoError(t, manager.EnsureConnected(context.Background()))
	require.Equal(t, 1, gw.created)
}
