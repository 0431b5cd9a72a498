package serializer

import (
	"encoding/json"
	"time"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

type fbParty struct {
	ID string `json:"id"`
}

type fbMessage struct {
	MID    string `json:"mid"`
	Seq    int64  `json:"seq"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo"`
}

type fbMessaging struct {
	Sender    *fbParty   `json:"sender"`
	Recipient *fbParty   `json:"recipient"`
	Timestamp *int64     `json:"timestamp"`
	Message   *fbMessage `json:"message"`
}

func (m fbMessaging) complete() bool {
	return m.Sender != nil && m.Sender.ID != "" &&
		m.Recipient != nil && m.Recipient.ID != "" &&
		m.Timestamp != nil && m.Message != nil
}

// facebookSerializer handles Messenger "messaging" items. Messenger
// conversations are always one-to-one with the page; echoes are messages
// the page itself sent.
type facebookSerializer struct {
	tenant string
	items  []fbMessaging
}

func newFacebook(payload json.RawMessage, tenant string) (*facebookSerializer, error) {
	items, err := decodeItems[fbMessaging](payload)
	if err != nil {
		return nil, err
	}
	for _, m := range items {
		if !m.complete() {
			return nil, errInvalidData
		}
	}
	return &facebookSerializer{tenant: tenant, items: items}, nil
}

func (s *facebookSerializer) Provider() Provider { return Facebook }
func (s *facebookSerializer) Tenant() string     { return s.tenant }

func (s *facebookSerializer) Serialize() []Record {
	out := make([]Record, 0, len(s.items))
	for _, m := range s.items {
		to := m.Recipient.ID
		out = append(out, Record{
			Data: domain.EventData{
				EventType: domain.EventTypeMessage,
				Provider:  string(Facebook),
				IsForBot:  !m.Message.IsEcho,
				IsFromBot: m.Message.IsEcho,
				IsIM:      true,
				Text:      m.Message.Text,
				CreatedAt: time.UnixMilli(*m.Timestamp),
				EventAttributes: map[string]any{
					"mid": m.Message.MID,
					"seq": m.Message.Seq,
				},
			},
			RecipInfo: RecipInfo{From: m.Sender.ID, To: &to},
		})
	}
	return out
}
