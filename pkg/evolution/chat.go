package evolution

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"wakit/pkg/webhook"
)

// Media is a decrypted attachment downloaded through the gateway.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
}

// FindMessage returns the stored record of a message, shaped like the data object of a
// messages.upsert delivery.
func (c *Client) FindMessage(ctx context.Context, messageID string) (json.RawMessage, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("find message: %w", ErrMessageNotFound)
	}

	raw, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/chat/findMessages/{instance}",
		body: map[string]any{
			"where": map[string]any{"key": map[string]any{"id": messageID}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("find message %s: %w", messageID, err)
	}

	// Older gateways answer with a bare array, newer ones paginate under messages.records.
	parsed := gjson.ParseBytes(raw)
	record := parsed.Get("messages.records.0")
	if parsed.IsArray() {
		record = parsed.Get("0")
	}
	if !record.IsObject() {
		return nil, fmt.Errorf("find message %s: %w", messageID, ErrMessageNotFound)
	}
	return json.RawMessage(record.Raw), nil
}

// GetMessage fetches a stored message and normalizes it exactly as if it had arrived
// through the webhook.
func (c *Client) GetMessage(ctx context.Context, messageID string) (webhook.Event, error) {
	record, err := c.FindMessage(ctx, messageID)
	if err != nil {
		return webhook.Event{}, err
	}

	envelope, err := simulatedEnvelope(c.instance, record)
	if err != nil {
		return webhook.Event{}, fmt.Errorf("build envelope for %s: %w", messageID, err)
	}

	env, err := webhook.ParseEnvelope(envelope)
	if err != nil {
		return webhook.Event{}, err
	}
	return webhook.Normalize(env, webhook.EventMessagesUpsert)
}

func simulatedEnvelope(instance string, record json.RawMessage) ([]byte, error) {
	envelope, err := sjson.SetBytes([]byte(`{}`), "event", webhook.EventMessagesUpsert)
	if err != nil {
		return nil, err
	}
	if envelope, err = sjson.SetBytes(envelope, "instance", instance); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(envelope, "data", record)
}

// DownloadMedia asks the gateway to decrypt the media of a message record (Event.RawData).
func (c *Client) DownloadMedia(ctx context.Context, record json.RawMessage, convertToMP4 bool) (Media, error) {
	if len(record) == 0 || !gjson.ValidBytes(record) {
		return Media{}, fmt.Errorf("download media: message record is empty or invalid")
	}

	raw, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/chat/getBase64FromMediaMessage/{instance}",
		body: map[string]any{
			"message":      record,
			"convertToMp4": convertToMP4,
		},
	})
	if err != nil {
		return Media{}, fmt.Errorf("download media: %w", err)
	}

	parsed := gjson.ParseBytes(raw)
	encoded := parsed.Get("base64").String()
	if encoded == "" {
		return Media{}, fmt.Errorf("download media: response has no base64 payload")
	}
	if _, data, ok := strings.Cut(encoded, ";base64,"); ok {
		encoded = data
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Media{}, fmt.Errorf("download media: decode base64: %w", err)
	}

	return Media{
		Data:     data,
		MimeType: parsed.Get("mimetype").String(),
		FileName: parsed.Get("fileName").String(),
	}, nil
}
