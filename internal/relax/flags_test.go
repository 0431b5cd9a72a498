package relax

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

func TestComputeFlags(t *testing.T) {
	const bot = "UBOT"
	tests := []struct {
		name         string
		actor        string
		im           bool
		text         string
		checkMention bool
		want         Flags
	}{
		{"self authored im", bot, true, "hi", true, Flags{IsFromBot: true, IsIM: true}},
		{"self authored mention", bot, false, "<@UBOT> hi", true, Flags{IsFromBot: true}},
		{"im from user", "U1", true, "hello", true, Flags{IsIM: true, IsForBot: true}},
		{"channel mention", "U1", false, "hey <@UBOT> look", true, Flags{IsForBot: true}},
		{"channel mention with label", "U1", false, "hey <@UBOT|metrics>", true, Flags{IsForBot: true}},
		{"channel no mention", "U1", false, "hey everyone", true, Flags{}},
		{"mention of another user", "U1", false, "hey <@UOTHER>", true, Flags{}},
		{"reaction skips mention", "U1", false, "<@UBOT>", false, Flags{}},
		{"reaction in im", "U1", true, "", false, Flags{IsIM: true, IsForBot: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := &domain.RawRoutedEvent{ActorExternalID: tt.actor, IsDirectMessage: tt.im, Text: tt.text}
			assert.Equal(t, tt.want, ComputeFlags(raw, "slack", bot, tt.checkMention))
		})
	}
}

func TestComputeFlags_NoBotID(t *testing.T) {
	raw := &domain.RawRoutedEvent{ActorExternalID: "", Text: "<@> hi"}
	assert.Equal(t, Flags{}, ComputeFlags(raw, "slack", "", true))
}

func TestMentionsBot(t *testing.T) {
	tests := []struct {
		provider string
		text     string
		want     bool
	}{
		{"slack", "<@UBOT>", true},
		{"SLACK", "ping <@UBOT|bot> now", true},
		{"slack", "@UBOT", false},
		{"slack", "<@UBOTX>", false},
		{"kik", "@UBOT hello", true},
		{"kik", "hello @UBOT", true},
		{"kik", "hello @UBOT.", true},
		{"kik", "hello @UBOT, there", true},
		{"kik", "hello @UBOTX", false},
		{"kik", "mail@UBOT", false},
		{"kik", "@UBOTX and @UBOT", true},
		{"facebook", "no mention", false},
		{"facebook", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, MentionsBot(tt.provider, tt.text, "UBOT"))
		})
	}
}
