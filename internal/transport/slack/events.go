// Package slacktransport turns Slack Events API callbacks into routed events.
package slacktransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

const provider = "slack"

// Callback is the outcome of translating one Events API request. Exactly one
// of Challenge and Event is set, or neither when the callback is ignored.
type Callback struct {
	Challenge string
	Event     *domain.RawRoutedEvent
	Ignored   string
}

// Verify checks the X-Slack-Signature headers against body. An empty secret
// disables the check.
func Verify(header http.Header, body []byte, secret string) error {
	if secret == "" {
		return nil
	}
	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return fmt.Errorf("slack signature: %w", err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("slack signature: %w", err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("slack signature: %w", err)
	}
	return nil
}

// envelope is read before handing the body to slackevents, which rejects
// inner event types it has no mapping for.
type envelope struct {
	Type      string `json:"type"`
	TeamID    string `json:"team_id"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type string `json:"type"`
	} `json:"event"`
}

// Translate maps a callback body for the installation at namespace.
func Translate(namespace string, body []byte) (Callback, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Callback{}, &domain.InvalidDataError{Msg: "invalid slack payload"}
	}

	switch env.Type {
	case slackevents.URLVerification:
		if env.Challenge == "" {
			return Callback{}, &domain.InvalidDataError{Msg: "missing challenge"}
		}
		return Callback{Challenge: env.Challenge}, nil
	case slackevents.CallbackEvent:
	default:
		return Callback{Ignored: env.Type}, nil
	}

	if env.Event.Type == "team_join" {
		return Callback{Event: &domain.RawRoutedEvent{
			TenantExternalID: env.TeamID,
			Namespace:        namespace,
			Provider:         provider,
			Kind:             domain.KindTeamJoined,
		}}, nil
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return Callback{Ignored: env.Event.Type}, nil
	}

	raw := domain.RawRoutedEvent{
		TenantExternalID: ev.TeamID,
		Namespace:        namespace,
		Provider:         provider,
	}
	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// edits, deletions and bot posts without a user are not conversation traffic
		if inner.User == "" || (inner.SubType != "" && inner.SubType != "thread_broadcast" && inner.SubType != "file_share") {
			return Callback{Ignored: "message/" + inner.SubType}, nil
		}
		raw.Kind = domain.KindMessageNew
		raw.ActorExternalID = inner.User
		raw.ChannelExternalID = inner.Channel
		raw.Timestamp = inner.TimeStamp
		raw.Text = inner.Text
		raw.IsDirectMessage = inner.ChannelType == "im"
	case *slackevents.ReactionAddedEvent:
		raw.Kind = domain.KindReactionAdded
		raw.ActorExternalID = inner.User
		raw.ChannelExternalID = inner.Item.Channel
		raw.Timestamp = inner.Item.Timestamp
		raw.Text = inner.Reaction
		// direct message channel ids start with D
		raw.IsDirectMessage = strings.HasPrefix(inner.Item.Channel, "D")
	case *slackevents.AppUninstalledEvent:
		raw.Kind = domain.KindDisableBot
	default:
		return Callback{Ignored: ev.InnerEvent.Type}, nil
	}
	return Callback{Event: &raw}, nil
}
