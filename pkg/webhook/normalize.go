package webhook

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Normalize builds an Event from a validated envelope.
//
// family is the event type taken from the request path; the envelope's own "event"
// field wins when present. On error the returned Event carries whatever was extracted
// before the failing step, which callers use for log context only.
func Normalize(env Envelope, family string) (Event, error) {
	root := gjson.ParseBytes(env)

	eventType := NormalizeEventType(root.Get("event").String())
	if eventType == "" {
		eventType = NormalizeEventType(family)
	}

	b := &builder{
		ev: Event{
			EventType: eventType,
			Kind:      KindUnknown,
		},
	}

	var err error
	if b.ev.InstanceID, err = stringAt(root, "instance", "instance"); err != nil {
		return b.ev, err
	}
	if b.ev.APIKey, err = stringAt(root, "apikey", "apikey"); err != nil {
		return b.ev, err
	}

	data := root.Get("data")
	if data.Exists() && data.Type != gjson.Null {
		if !data.IsObject() {
			return b.ev, malformedError("data is not a JSON object")
		}
		b.data = data
	}

	steps := messageSteps
	if eventType == EventConnectionUpdate {
		steps = connectionSteps
	}
	for _, step := range steps {
		if err := step(b); err != nil {
			return b.ev, err
		}
	}

	return b.ev, nil
}

type builder struct {
	data    gjson.Result
	message gjson.Result
	// contentKey is the data.message key that decided the kind.
	contentKey string
	ev         Event
}

type step func(*builder) error

var (
	messageSteps    = []step{extractIdentity, extractMetadata, extractContent, extractMedia, extractReaction}
	connectionSteps = []step{extractMetadata, extractConnection}
)

func extractIdentity(b *builder) error {
	var err error
	if b.ev.RemoteJID, err = stringAt(b.data, "key.remoteJid", "data.key.remoteJid"); err != nil {
		return err
	}
	if b.ev.FromMe, err = boolAt(b.data, "key.fromMe", "data.key.fromMe"); err != nil {
		return err
	}
	if b.ev.MessageID, err = stringAt(b.data, "key.id", "data.key.id"); err != nil {
		return err
	}
	if b.ev.PushName, err = stringAt(b.data, "pushName", "data.pushName"); err != nil {
		return err
	}
	if b.ev.Participant, err = stringAt(b.data, "key.participant", "data.key.participant"); err != nil {
		return err
	}
	if b.ev.Participant == "" {
		if b.ev.Participant, err = stringAt(b.data, "sender", "data.sender"); err != nil {
			return err
		}
	}
	return nil
}

func extractMetadata(b *builder) error {
	var err error
	if b.ev.Timestamp, err = int64At(b.data, "messageTimestamp", "data.messageTimestamp"); err != nil {
		return err
	}
	if b.ev.MessageType, err = stringAt(b.data, "messageType", "data.messageType"); err != nil {
		return err
	}

	if b.data.Exists() {
		b.ev.RawData = json.RawMessage(b.data.Raw)
	}

	message := b.data.Get("message")
	switch {
	case message.IsObject():
		b.message = message
		b.ev.RawMessage = json.RawMessage(message.Raw)
	case message.Type == gjson.Null:
	default:
		return validationError("data.message", message)
	}
	return nil
}

type contentRule struct {
	key  string
	kind MessageKind
	body func(content gjson.Result, field string) (string, error)
}

// contentRules are evaluated in order; the first key present in data.message wins.
var contentRules = []contentRule{
	{key: "conversation", kind: KindConversation, body: selfText},
	{key: "extendedTextMessage", kind: KindExtendedText, body: textField("text", "")},
	{key: "imageMessage", kind: KindImage, body: textField("caption", "[Imagen]")},
	{key: "audioMessage", kind: KindAudio, body: fixedText("[Audio]")},
	{key: "videoMessage", kind: KindVideo, body: textField("caption", "[Video]")},
	{key: "documentMessage", kind: KindDocument, body: textField("caption", "[Documento]")},
	{key: "stickerMessage", kind: KindSticker, body: fixedText("[Sticker]")},
	{key: "reactionMessage", kind: KindReaction, body: textField("text", "")},
}

func extractContent(b *builder) error {
	for _, rule := range contentRules {
		content := b.message.Get(rule.key)
		if !content.Exists() {
			continue
		}

		body, err := rule.body(content, "data.message."+rule.key)
		if err != nil {
			return err
		}

		b.contentKey = rule.key
		b.ev.Kind = rule.kind
		b.ev.Body = body
		b.ev.IsSticker = rule.kind == KindSticker
		return nil
	}
	return nil
}

func extractMedia(b *builder) error {
	switch b.ev.Kind {
	case KindAudio, KindImage, KindVideo, KindSticker:
	default:
		return nil
	}

	content := b.message.Get(b.contentKey)
	field := "data.message." + b.contentKey

	var err error
	if b.ev.MediaURL, err = stringAt(content, "url", field+".url"); err != nil {
		return err
	}
	if b.ev.MediaMime, err = stringAt(content, "mimetype", field+".mimetype"); err != nil {
		return err
	}

	if b.ev.Kind == KindAudio || b.ev.Kind == KindVideo {
		if seconds := content.Get("seconds"); seconds.Exists() && seconds.Type != gjson.Null {
			value, err := int64At(content, "seconds", field+".seconds")
			if err != nil {
				return err
			}
			b.ev.MediaSeconds = &value
		}
	}
	return nil
}

func extractReaction(b *builder) error {
	if b.ev.Kind != KindReaction {
		return nil
	}

	target, err := stringAt(b.message, "reactionMessage.key.id", "data.message.reactionMessage.key.id")
	if err != nil {
		return err
	}

	b.ev.IsReaction = true
	b.ev.ReactionEmoji = b.ev.Body
	b.ev.ReactionTargetID = target
	return nil
}

func extractConnection(b *builder) error {
	update := &ConnectionUpdate{}

	var err error
	if update.Instance, err = stringAt(b.data, "instance", "data.instance"); err != nil {
		return err
	}
	if update.State, err = stringAt(b.data, "state", "data.state"); err != nil {
		return err
	}
	if update.StatusReason, err = int64At(b.data, "statusReason", "data.statusReason"); err != nil {
		return err
	}

	if update.Instance == "" {
		update.Instance = b.ev.InstanceID
	}
	if b.ev.InstanceID == "" {
		b.ev.InstanceID = update.Instance
	}

	b.ev.Connection = update
	return nil
}

func selfText(content gjson.Result, field string) (string, error) {
	switch content.Type {
	case gjson.String:
		return content.Str, nil
	case gjson.Null:
		return "", nil
	default:
		return "", validationError(field, content)
	}
}

func textField(key, fallback string) func(gjson.Result, string) (string, error) {
	return func(content gjson.Result, field string) (string, error) {
		value := content.Get(key)
		if value.Type == gjson.Null {
			return fallback, nil
		}
		if value.Type != gjson.String {
			return "", validationError(field+"."+key, value)
		}
		return value.Str, nil
	}
}

func fixedText(text string) func(gjson.Result, string) (string, error) {
	return func(gjson.Result, string) (string, error) {
		return text, nil
	}
}

// stringAt reads an optional string. Missing and null map to "".
func stringAt(parent gjson.Result, path, field string) (string, error) {
	value := parent.Get(path)
	switch value.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		return value.Str, nil
	default:
		return "", validationError(field, value)
	}
}

// boolAt accepts JSON booleans and the strings "true" and "false".
func boolAt(parent gjson.Result, path, field string) (bool, error) {
	value := parent.Get(path)
	switch value.Type {
	case gjson.Null:
		return false, nil
	case gjson.True, gjson.False:
		return value.Bool(), nil
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(value.Str)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, validationError(field, value)
	default:
		return false, validationError(field, value)
	}
}

// int64At accepts integral JSON numbers and decimal strings.
func int64At(parent gjson.Result, path, field string) (int64, error) {
	value := parent.Get(path)
	switch value.Type {
	case gjson.Null:
		return 0, nil
	case gjson.Number:
		if value.Num != math.Trunc(value.Num) {
			return 0, validationError(field, value)
		}
		return value.Int(), nil
	case gjson.String:
		parsed, err := strconv.ParseInt(strings.TrimSpace(value.Str), 10, 64)
		if err != nil {
			return 0, validationError(field, value)
		}
		return parsed, nil
	default:
		return 0, validationError(field, value)
	}
}
