package domain

import "time"

// Event types written by the router and the serializers.
const (
	EventTypeMessage         = "message"
	EventTypeUserAdded       = "user_added"
	EventTypeBotDisabled     = "bot_disabled"
	EventTypeMessageReaction = "message_reaction"
)

// EventData is the provider-agnostic shape every serializer produces and
// the router fills in before persisting.
type EventData struct {
	EventType       string         `json:"event_type"`
	Provider        string         `json:"provider"`
	IsForBot        bool           `json:"is_for_bot"`
	IsFromBot       bool           `json:"is_from_bot"`
	IsIM            bool           `json:"is_im"`
	Text            string         `json:"text"`
	CreatedAt       time.Time      `json:"created_at"`
	EventAttributes map[string]any `json:"event_attributes"`
}

// Event is the canonical, persisted representation of an inbound platform
// event. Records are append-only.
type Event struct {
	ID            int64  `json:"id"`
	BotInstanceID int64  `json:"bot_instance_id"`
	UserID        *int64 `json:"user_id,omitempty"`
	EventData
}

// Validation constraints for raw routed events.
const (
	MaxNamespaceLen = 64
	MaxExternalID   = 128
	MaxTextLen      = 40_000
)
