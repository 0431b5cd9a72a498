package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EventKind identifies what happened on the provider side.
type EventKind string

const (
	KindTeamJoined    EventKind = "team_joined"
	KindDisableBot    EventKind = "disable_bot"
	KindReactionAdded EventKind = "reaction_added"
	KindMessageNew    EventKind = "message_new"
)

var kindAliases = map[string]EventKind{
	"tenant_joined": KindTeamJoined,
	"bot_disabled":  KindDisableBot,
}

// ParseEventKind normalizes a wire kind, accepting the tenant_joined and
// bot_disabled spellings. Unknown kinds are returned unchanged.
func ParseEventKind(s string) EventKind {
	s = strings.TrimSpace(strings.ToLower(s))
	if k, ok := kindAliases[s]; ok {
		return k
	}
	return EventKind(s)
}

// Known reports whether the router has a transition for k.
func (k EventKind) Known() bool {
	switch k {
	case KindTeamJoined, KindDisableBot, KindReactionAdded, KindMessageNew:
		return true
	}
	return false
}

// NeedsActor reports whether the kind carries a participant and a channel.
func (k EventKind) NeedsActor() bool {
	return k == KindReactionAdded || k == KindMessageNew
}

// RawRoutedEvent is the provider-agnostic envelope handed to the router.
// JSON names follow the Relax wire format.
type RawRoutedEvent struct {
	TenantExternalID  string    `json:"team_uid"`
	Namespace         string    `json:"namespace"`
	ActorExternalID   string    `json:"user_uid,omitempty"`
	ChannelExternalID string    `json:"channel_uid,omitempty"`
	Timestamp         string    `json:"timestamp,omitempty"`
	Provider          string    `json:"provider,omitempty"`
	IsDirectMessage   bool      `json:"im"`
	Text              string    `json:"text,omitempty"`
	BotExternalID     string    `json:"relax_bot_uid,omitempty"`
	Kind              EventKind `json:"type"`
}

// UnmarshalJSON rejects unknown fields and normalizes the kind so aliases
// route like their canonical names.
func (e *RawRoutedEvent) UnmarshalJSON(b []byte) error {
	type plain RawRoutedEvent
	var p plain
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	p.Kind = ParseEventKind(string(p.Kind))
	*e = RawRoutedEvent(p)
	return nil
}
