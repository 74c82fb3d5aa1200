// Package transcribe turns voice notes into text through the OpenAI audio API.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"wakit/pkg/config"
)

var ErrEmptyAudio = errors.New("audio is empty")

// Transcriber converts an audio buffer to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type OpenAI struct {
	client         osdk.Client
	model          string
	language       string
	prompt         string
	requestTimeout time.Duration
	log            *slog.Logger
}

func New(cfg config.TranscriptionConfig, log *slog.Logger, extra ...option.RequestOption) (*OpenAI, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("transcription.api_key_env is required or OPENAI_API_KEY must be set")
	}
	if log == nil {
		log = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}
	opts = append(opts, extra...)

	return &OpenAI{
		client:         osdk.NewClient(opts...),
		model:          strings.TrimSpace(cfg.Model),
		language:       strings.TrimSpace(cfg.Language),
		prompt:         strings.TrimSpace(cfg.Prompt),
		requestTimeout: requestTimeout,
		log:            log.With("component", "transcribe.openai"),
	}, nil
}

// Transcribe uploads audio and returns the trimmed transcript.
func (c *OpenAI) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if mimeType = strings.TrimSpace(mimeType); mimeType == "" {
		mimeType = "audio/ogg"
	}
	startedAt := time.Now()
	log := c.log.With("model", c.model, "bytes", len(audio))
	log.Debug("transcription request started")

	params := osdk.AudioTranscriptionNewParams{
		File:  osdk.File(bytes.NewReader(audio), "audio"+extensionFor(mimeType), mimeType),
		Model: osdk.AudioModel(c.model),
	}
	if c.language != "" {
		params.Language = osdk.String(c.language)
	}
	if c.prompt != "" {
		params.Prompt = osdk.String(c.prompt)
	}

	transcription, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		log.Debug("transcription request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("transcribe audio: %w", err)
	}

	text := strings.TrimSpace(transcription.Text)
	log.Debug("transcription request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "text_length", len(text))
	return text, nil
}

func (c *OpenAI) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.TranscriptionConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// extensionFor picks a file extension the API accepts for the given MIME type.
func extensionFor(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	default:
		return ".ogg"
	}
}
