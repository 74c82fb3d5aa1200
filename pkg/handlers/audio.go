package handlers

import (
	"context"
	"fmt"
	"strings"

	"wakit/pkg/archive"
	"wakit/pkg/evolution"
	"wakit/pkg/webhook"
)

const transcriptPrefix = "🎙️ "

// RegisterAudioArchive saves every voice note as <message id>.ogg in the archive.
func RegisterAudioArchive(reg *webhook.Registry, deps Deps) error {
	if err := requireDeps("audio archive", map[string]bool{
		"gateway": deps.Gateway != nil,
		"archive": deps.Archive != nil,
	}); err != nil {
		return err
	}
	log := deps.logger("audio_archive")

	reg.Register(webhook.Select(webhook.CategoryAudio), "audio_archive", func(ctx context.Context, ev webhook.Event) error {
		log.Info("Processing audio", "message_id", ev.MessageID, "seconds", seconds(ev))

		media, err := deps.gateway(ev).DownloadMedia(ctx, ev.RawData, false)
		if err != nil {
			return fmt.Errorf("download audio: %w", err)
		}

		saved, err := deps.Archive.Save(ctx, archive.FileName(ev.MessageID, ".ogg"), media.Data)
		if err != nil {
			return fmt.Errorf("archive audio: %w", err)
		}
		log.Info("Audio saved", "path", saved.Path, "bytes", saved.Bytes)
		return nil
	})
	return nil
}

// RegisterTranscription replies to each voice note with its transcript.
func RegisterTranscription(reg *webhook.Registry, deps Deps) error {
	if err := requireDeps("transcription", map[string]bool{
		"gateway":     deps.Gateway != nil,
		"transcriber": deps.Transcriber != nil,
	}); err != nil {
		return err
	}
	log := deps.logger("transcription")

	reg.Register(webhook.Select(webhook.CategoryAudio), "transcription", func(ctx context.Context, ev webhook.Event) error {
		gw := deps.gateway(ev)

		media, err := gw.DownloadMedia(ctx, ev.RawData, false)
		if err != nil {
			return fmt.Errorf("download audio: %w", err)
		}

		mimeType := media.MimeType
		if mimeType == "" {
			mimeType = ev.MediaMime
		}
		text, err := deps.Transcriber.Transcribe(ctx, media.Data, mimeType)
		if err != nil {
			return fmt.Errorf("transcribe audio: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			log.Info("Empty transcript", "message_id", ev.MessageID)
			return nil
		}

		if _, err := gw.SendText(ctx, evolution.TextMessage{Number: ev.RemoteJID, Text: transcriptPrefix + text}); err != nil {
			return fmt.Errorf("send transcript: %w", err)
		}
		log.Info("Transcript sent", "message_id", ev.MessageID, "length", len(text))
		return nil
	})
	return nil
}

func seconds(ev webhook.Event) int64 {
	if ev.MediaSeconds == nil {
		return 0
	}
	return *ev.MediaSeconds
}
