// Package webhook turns Evolution API webhook deliveries into typed events and routes
// them to registered handlers.
//
// The pipeline is Dispatch -> ParseEnvelope -> Normalize -> Classify -> Registry.Lookup
// -> handlers. Every stage is total from the caller's point of view: failures are logged
// and reported in the Result, never returned to the HTTP layer.
package webhook

import (
	"encoding/json"
	"strings"
)

// GroupSuffix marks a remote JID as a group chat.
const GroupSuffix = "@g.us"

// Event families emitted by the gateway, in dotted form.
const (
	EventMessagesUpsert   = "messages.upsert"
	EventConnectionUpdate = "connection.update"
)

// MessageKind is the inner shape of a message, resolved from the keys of data.message.
type MessageKind string

const (
	KindConversation MessageKind = "conversation"
	KindExtendedText MessageKind = "extended_text"
	KindImage        MessageKind = "image"
	KindAudio        MessageKind = "audio"
	KindVideo        MessageKind = "video"
	KindDocument     MessageKind = "document"
	KindSticker      MessageKind = "sticker"
	KindReaction     MessageKind = "reaction"
	KindUnknown      MessageKind = "unknown"
)

// ConnectionUpdate is the normalized payload of a connection.update delivery.
type ConnectionUpdate struct {
	Instance     string `json:"instance"`
	State        string `json:"state"`
	StatusReason int64  `json:"status_reason,omitempty"`
}

// Event is the flat record produced from one webhook delivery.
//
// RawMessage and RawData alias the delivery body and must be treated as read-only;
// concurrent handlers receive the same backing bytes.
type Event struct {
	EventType  string `json:"event_type"`
	InstanceID string `json:"instance_id"`
	APIKey     string `json:"-"`

	RemoteJID   string `json:"remote_jid"`
	FromMe      bool   `json:"from_me"`
	MessageID   string `json:"message_id"`
	PushName    string `json:"push_name"`
	Participant string `json:"participant,omitempty"`

	Kind        MessageKind `json:"message_kind"`
	MessageType string      `json:"message_type,omitempty"`
	Body        string      `json:"body"`

	MediaURL     string `json:"media_url,omitempty"`
	MediaMime    string `json:"media_mime,omitempty"`
	MediaSeconds *int64 `json:"media_seconds,omitempty"`
	IsSticker    bool   `json:"is_sticker"`

	IsReaction       bool   `json:"is_reaction"`
	ReactionEmoji    string `json:"reaction_emoji,omitempty"`
	ReactionTargetID string `json:"reaction_target_message_id,omitempty"`

	Timestamp  int64           `json:"timestamp"`
	RawMessage json.RawMessage `json:"raw_message,omitempty"`
	RawData    json.RawMessage `json:"raw_data,omitempty"`

	Connection *ConnectionUpdate `json:"connection,omitempty"`
}

// IsGroup reports whether the event concerns a group chat.
func (e Event) IsGroup() bool {
	return strings.HasSuffix(e.RemoteJID, GroupSuffix)
}

// Category classifies the event for routing.
func (e Event) Category() Category {
	return Classify(e.EventType, e.Kind)
}

// Sender is the identity that wrote the message: the participant in groups, the chat otherwise.
func (e Event) Sender() string {
	if e.Participant != "" {
		return e.Participant
	}
	return e.RemoteJID
}
