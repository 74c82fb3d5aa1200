package webhook

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
)

// Envelope is the raw JSON object of one delivery, validated to be a JSON object.
type Envelope []byte

// ParseEnvelope validates a request body as a JSON object without decoding it.
func ParseEnvelope(body []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, malformedError("empty body")
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, malformedError("body is not valid JSON")
	}
	if !gjson.ParseBytes(trimmed).IsObject() {
		return nil, malformedError("body is not a JSON object")
	}
	return Envelope(trimmed), nil
}

// NormalizeEventType maps gateway spellings (messages-upsert, MESSAGES_UPSERT,
// messages.upsert) to the dotted lower-case family name.
func NormalizeEventType(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", ".", "_", ".", "/", ".").Replace(normalized)
	return strings.Trim(normalized, ".")
}
