package webhook

import (
	"context"
	"sync"
	"testing"

	"github.com/tidwall/sjson"

	"wakit/pkg/bus"
)

const textUpsert = `{
  "event": "messages.upsert",
  "instance": "main",
  "apikey": "instance-key",
  "data": {
    "key": {"remoteJid": "5215512345678@s.whatsapp.net", "fromMe": true, "id": "ABC123"},
    "pushName": "Ana",
    "messageTimestamp": 1717000000,
    "messageType": "conversation",
    "message": {"conversation": "hola @bot"}
  }
}`

const connectionDelivery = `{
  "event": "connection.update",
  "instance": "main",
  "data": {"instance": "main", "state": "open", "statusReason": 200}
}`

type edit struct {
	path   string
	value  any
	raw    string
	remove bool
}

func set(path string, value any) edit { return edit{path: path, value: value} }
func setRaw(path, raw string) edit { return edit{path: path, raw: raw} }
func del(path string) edit { return edit{path: path, remove: true} }

// delivery applies edits to base and returns the resulting body.
func delivery(t *testing.T, base string, edits ...edit) []byte {
	t.Helper()

	body := base
	for _, e := range edits {
		var err error
		switch {
		case e.remove:
			body, err = sjson.Delete(body, e.path)
		case e.raw != "":
			body, err = sjson.SetRaw(body, e.path, e.raw)
		default:
			body, err = sjson.Set(body, e.path, e.value)
		}
		if err != nil {
			t.Fatalf("edit %s: %v", e.path, err)
		}
	}
	return []byte(body)
}

func normalized(t *testing.T, base string, edits ...edit) (Event, error) {
	t.Helper()

	env, err := ParseEnvelope(delivery(t, base, edits...))
	if err != nil {
		t.Fatalf("ParseEnvelope error: %v", err)
	}
	return Normalize(env, "messages-upsert")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event bus.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return true
}

func (p *recordingPublisher) types() []bus.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]bus.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

func (p *recordingPublisher) snapshot() []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Event(nil), p.events...)
}
