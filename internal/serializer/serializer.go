// Package serializer converts provider webhook payloads into the canonical
// event shape. Serializers are pure: no I/O, output order follows input order.
package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

// Provider enumerates the payload formats with a serializer.
type Provider string

const (
	Kik      Provider = "kik"
	Facebook Provider = "facebook"
)

// Providers lists every supported provider.
var Providers = []Provider{Kik, Facebook}

// ParseProvider maps a provider name onto the closed enumeration.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case Kik, Facebook:
		return p, nil
	}
	return "", &domain.ConfigurationError{Msg: fmt.Sprintf("Unsupported Provider %q", name)}
}

// RecipInfo names the sender and, when the provider reports it, the recipient.
type RecipInfo struct {
	From string  `json:"from"`
	To   *string `json:"to"`
}

// Record is one serialized payload item.
type Record struct {
	Data      domain.EventData `json:"data"`
	RecipInfo RecipInfo        `json:"recip_info"`
}

// Serializer is implemented once per provider.
type Serializer interface {
	Provider() Provider
	// Tenant returns the tenant context the serializer was built with.
	Tenant() string
	Serialize() []Record
}

var (
	errOptionNil   = &domain.ConfigurationError{Msg: "Supplied Option Is Nil"}
	errInvalidData = &domain.InvalidDataError{Msg: "Invalid Data Supplied"}
)

// New selects the serializer for provider and validates payload against
// that provider's item shape. payload must be a JSON array of items.
func New(provider Provider, payload json.RawMessage, tenant string) (Serializer, error) {
	if isNil(payload) || tenant == "" {
		return nil, errOptionNil
	}
	switch provider {
	case Kik:
		return newKik(payload, tenant)
	case Facebook:
		return newFacebook(payload, tenant)
	}
	return nil, &domain.ConfigurationError{Msg: fmt.Sprintf("Unsupported Provider %q", provider)}
}

// Serialize is shorthand for New(...).Serialize().
func Serialize(provider Provider, payload json.RawMessage, tenant string) ([]Record, error) {
	s, err := New(provider, payload, tenant)
	if err != nil {
		return nil, err
	}
	return s.Serialize(), nil
}

func isNil(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeItems requires payload to be a JSON array and decodes it into T.
func decodeItems[T any](payload json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errInvalidData
	}
	var items []T
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, errInvalidData
	}
	return items, nil
}
