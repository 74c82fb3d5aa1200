package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogNotifierWritesWarning(t *testing.T) {
	var out bytes.Buffer
	notifier := NewLog(slog.New(slog.NewTextHandler(&out, nil)))

	require.NoError(t, notifier.Notify(context.Background(), "bug #3"))
	require.Contains(t, out.String(), "level=WARN")
	require.Contains(t, out.String(), "bug #3")
}
