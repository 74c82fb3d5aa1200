package evolution

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// SendResult identifies the message the gateway queued.
type SendResult struct {
	MessageID string          `json:"message_id"`
	RemoteJID string          `json:"remote_jid"`
	Status    string          `json:"status"`
	Raw       json.RawMessage `json:"-"`
}

// TextMessage is a plain text send. Number accepts digits or a full JID.
type TextMessage struct {
	Number      string
	Text        string
	Delay       time.Duration
	LinkPreview bool
}

// MediaMessage sends an image, video or document. Media is base64 or a public URL.
type MediaMessage struct {
	Number    string
	MediaType string
	MimeType  string
	Caption   string
	Media     string
	FileName  string
}

// AudioMessage sends a voice note. Audio is base64 or a public URL.
type AudioMessage struct {
	Number string
	Audio  string
	Delay  time.Duration
}

type StickerMessage struct {
	Number  string
	Sticker string
}

type LocationMessage struct {
	Number    string
	Name      string
	Address   string
	Latitude  float64
	Longitude float64
}

func (c *Client) SendText(ctx context.Context, msg TextMessage) (SendResult, error) {
	if err := requireNumber(msg.Number); err != nil {
		return SendResult{}, err
	}
	return c.send(ctx, "/message/sendText/{instance}", map[string]any{
		"number":      recipient(msg.Number),
		"text":        msg.Text,
		"delay":       msg.Delay.Milliseconds(),
		"linkPreview": msg.LinkPreview,
	})
}

func (c *Client) SendMedia(ctx context.Context, msg MediaMessage) (SendResult, error) {
	if err := requireNumber(msg.Number); err != nil {
		return SendResult{}, err
	}

	mediaType := strings.ToLower(strings.TrimSpace(msg.MediaType))
	switch mediaType {
	case "":
		mediaType = "document"
	case "image", "video", "document":
	default:
		return SendResult{}, fmt.Errorf("unsupported media type %q", msg.MediaType)
	}

	mimeType := msg.MimeType
	if mimeType == "" && mediaType == "document" {
		mimeType = "application/pdf"
	}

	return c.send(ctx, "/message/sendMedia/{instance}", map[string]any{
		"number":    recipient(msg.Number),
		"mediatype": mediaType,
		"mimetype":  mimeType,
		"caption":   msg.Caption,
		"media":     msg.Media,
		"fileName":  msg.FileName,
	})
}

func (c *Client) SendAudio(ctx context.Context, msg AudioMessage) (SendResult, error) {
	if err := requireNumber(msg.Number); err != nil {
		return SendResult{}, err
	}
	return c.send(ctx, "/message/sendWhatsAppAudio/{instance}", map[string]any{
		"number":   recipient(msg.Number),
		"audio":    msg.Audio,
		"delay":    msg.Delay.Milliseconds(),
		"encoding": true,
	})
}

func (c *Client) SendSticker(ctx context.Context, msg StickerMessage) (SendResult, error) {
	if err := requireNumber(msg.Number); err != nil {
		return SendResult{}, err
	}
	return c.send(ctx, "/message/sendSticker/{instance}", map[string]any{
		"number":  recipient(msg.Number),
		"sticker": msg.Sticker,
	})
}

func (c *Client) SendLocation(ctx context.Context, msg LocationMessage) (SendResult, error) {
	if err := requireNumber(msg.Number); err != nil {
		return SendResult{}, err
	}
	if msg.Latitude < -90 || msg.Latitude > 90 || msg.Longitude < -180 || msg.Longitude > 180 {
		return SendResult{}, fmt.Errorf("invalid coordinates %f,%f", msg.Latitude, msg.Longitude)
	}
	return c.send(ctx, "/message/sendLocation/{instance}", map[string]any{
		"number":    recipient(msg.Number),
		"name":      msg.Name,
		"address":   msg.Address,
		"latitude":  msg.Latitude,
		"longitude": msg.Longitude,
	})
}

func (c *Client) send(ctx context.Context, path string, body map[string]any) (SendResult, error) {
	raw, err := c.do(ctx, request{method: http.MethodPost, path: path, body: body})
	if err != nil {
		return SendResult{}, fmt.Errorf("send message: %w", err)
	}

	parsed := gjson.ParseBytes(raw)
	result := SendResult{
		MessageID: parsed.Get("key.id").String(),
		RemoteJID: parsed.Get("key.remoteJid").String(),
		Status:    parsed.Get("status").String(),
		Raw:       json.RawMessage(raw),
	}
	c.log.Debug("Message sent", "instance", c.instance, "path", path, "message_id", result.MessageID)
	return result, nil
}

// EncodeBase64 reads r fully and returns it base64 encoded, the form send endpoints accept.
func EncodeBase64(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read media: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func requireNumber(number string) error {
	if strings.TrimSpace(number) == "" {
		return ErrMissingNumber
	}
	return nil
}

// recipient keeps JIDs intact and strips formatting from bare phone numbers.
func recipient(number string) string {
	number = strings.TrimSpace(number)
	if strings.Contains(number, "@") {
		return number
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
}
