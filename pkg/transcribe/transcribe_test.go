package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/require"

	"wakit/pkg/config"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(config.TranscriptionConfig{Model: "whisper-1"}, nil)
	require.Error(t, err)
}

func TestNewPrefersConfiguredKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("WAKIT_STT_KEY", "sk-custom")

	require.Equal(t, "sk-custom", resolveAPIKey(config.TranscriptionConfig{APIKeyEnv: "WAKIT_STT_KEY"}))
}

func TestTranscribe(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var (
		mu       sync.Mutex
		fields   = map[string]string{}
		filename string
		auth     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}

		reader, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		for {
			part, err := reader.NextPart()
			if err != nil {
				break
			}
			body, _ := io.ReadAll(part)
			if part.FormName() == "file" {
				filename = part.FileName()
				continue
			}
			fields[part.FormName()] = string(body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  hola mundo \n"}`)
	}))
	defer server.Close()

	client, err := New(config.TranscriptionConfig{
		BaseURL:  server.URL,
		Model:    "whisper-1",
		Language: "es",
	}, nil, option.WithMaxRetries(0))
	require.NoError(t, err)

	text, err := client.Transcribe(context.Background(), []byte("OggS..."), "audio/ogg; codecs=opus")
	require.NoError(t, err)
	require.Equal(t, "hola mundo", text)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, "whisper-1", fields["model"])
	require.Equal(t, "es", fields["language"])
	require.Equal(t, "audio.ogg", filename)
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	client, err := New(config.TranscriptionConfig{Model: "whisper-1"}, nil)
	require.NoError(t, err)

	_, err = client.Transcribe(context.Background(), nil, "")
	require.ErrorIs(t, err, ErrEmptyAudio)
}

func TestTranscribeSurfacesAPIErrors(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client, err := New(config.TranscriptionConfig{BaseURL: server.URL, Model: "whisper-1"}, nil, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = client.Transcribe(context.Background(), []byte("OggS"), "audio/ogg")
	require.Error(t, err)
}

func TestExtensionFor(t *testing.T) {
	require.Equal(t, ".ogg", extensionFor("audio/ogg; codecs=opus"))
	require.Equal(t, ".mp3", extensionFor("audio/mpeg"))
	require.Equal(t, ".m4a", extensionFor("audio/mp4"))
	require.Equal(t, ".ogg", extensionFor(""))
}
