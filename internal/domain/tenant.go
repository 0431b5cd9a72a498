package domain

import "time"

// TenantState is the lifecycle state of a bot instance.
type TenantState string

const (
	StateEnabled  TenantState = "enabled"
	StateDisabled TenantState = "disabled"
)

// DefaultProvider is the provider assigned to instances created without one.
const DefaultProvider = "slack"

// Bot is the bot product owning one or more installations.
type Bot struct {
	ID         int64   `json:"id"`
	UID        string  `json:"uid"`
	Name       string  `json:"name"`
	WebhookURL *string `json:"webhook_url,omitempty"`
}

// HasWebhook reports whether events should be forwarded to the bot's endpoint.
func (b *Bot) HasWebhook() bool {
	return b != nil && b.WebhookURL != nil && *b.WebhookURL != ""
}

// InstanceAttributes is the provider metadata stored with an installation.
type InstanceAttributes struct {
	TeamID   string `json:"team_id,omitempty"`
	TeamName string `json:"team_name,omitempty"`
	TeamURL  string `json:"team_url,omitempty"`
}

// BotInstance is one installation of a bot into an external team. Inbound
// events are addressed to it by Namespace.
type BotInstance struct {
	ID                 int64              `json:"id"`
	UID                string             `json:"uid"`
	Namespace          string             `json:"namespace"`
	Provider           string             `json:"provider"`
	State              TenantState        `json:"state"`
	InstanceAttributes InstanceAttributes `json:"instance_attributes"`
	BotID              int64              `json:"bot_id"`
	Bot                *Bot               `json:"bot,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Enabled reports whether the instance still accepts lifecycle transitions.
func (bi *BotInstance) Enabled() bool { return bi.State == StateEnabled }

// Membership distinguishes ordinary participants from the instance's own bot.
type Membership string

const (
	MembershipMember Membership = "member"
	MembershipBot    Membership = "bot"
)

// BotUser is a participant known within one bot instance.
type BotUser struct {
	ID             int64      `json:"id"`
	UID            string     `json:"uid"`
	Provider       string     `json:"provider"`
	BotInstanceID  int64      `json:"bot_instance_id"`
	MembershipType Membership `json:"membership_type"`
	CreatedAt      time.Time  `json:"created_at"`
}
