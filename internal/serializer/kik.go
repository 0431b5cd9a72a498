package serializer

import (
	"encoding/json"
	"time"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

type kikMessage struct {
	ChatID       *string  `json:"chatId"`
	Type         *string  `json:"type"`
	From         *string  `json:"from"`
	Participants []string `json:"participants"`
	ID           *string  `json:"id"`
	Timestamp    *int64   `json:"timestamp"`
	Body         string   `json:"body"`
	Mention      *string  `json:"mention"`
}

func (m kikMessage) complete() bool {
	return m.ChatID != nil && m.Type != nil && m.From != nil && m.ID != nil && m.Timestamp != nil
}

// kikSerializer handles Kik bot webhooks. Kik only delivers inbound user
// traffic over a direct bot channel, so every message is for the bot.
type kikSerializer struct {
	tenant   string
	messages []kikMessage
}

func newKik(payload json.RawMessage, tenant string) (*kikSerializer, error) {
	messages, err := decodeItems[kikMessage](payload)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if !m.complete() {
			return nil, errInvalidData
		}
	}
	return &kikSerializer{tenant: tenant, messages: messages}, nil
}

func (s *kikSerializer) Provider() Provider { return Kik }
func (s *kikSerializer) Tenant() string     { return s.tenant }

func (s *kikSerializer) Serialize() []Record {
	out := make([]Record, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, Record{
			Data: domain.EventData{
				EventType: domain.EventTypeMessage,
				Provider:  string(Kik),
				IsForBot:  true,
				IsFromBot: false,
				IsIM:      false,
				Text:      m.Body,
				// milliseconds, so the sub-second part survives exactly
				CreatedAt: time.UnixMilli(*m.Timestamp),
				EventAttributes: map[string]any{
					"chat_id":      *m.ChatID,
					"id":           *m.ID,
					"sub_type":     *m.Type,
					"from":         *m.From,
					"participants": m.Participants,
				},
			},
			RecipInfo: RecipInfo{From: *m.From, To: nil},
		})
	}
	return out
}
