package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

// KeySource names the fields a key was derived from.
type KeySource string

const (
	KeyFromMessage   KeySource = "message"
	KeyFromComposite KeySource = "composite"
)

// DeriveKey returns a stable key identifying one inbound event and the
// source used. Jobs dispatched for the event carry it as correlation id, so
// downstream consumers can collapse redeliveries.
//   - Message and reaction events are keyed by (namespace, kind, channel, actor, timestamp).
//   - Lifecycle events have no provider id and fall back to (namespace, kind, team).
//
// The key is a hex-encoded SHA-256 to guarantee fixed length.
func DeriveKey(ev *domain.RawRoutedEvent) (key string, src KeySource) {
	parts := []string{ev.Namespace, string(ev.Kind)}
	src = KeyFromComposite
	if ev.Kind.NeedsActor() {
		parts = append(parts, ev.ChannelExternalID, ev.ActorExternalID, ev.Timestamp)
		if ev.Kind == domain.KindReactionAdded {
			parts = append(parts, ev.Text)
		}
		src = KeyFromMessage
	} else {
		parts = append(parts, ev.TenantExternalID)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), src
}
