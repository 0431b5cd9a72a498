package relax

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

// Flags are the routing flags stored on every message-like event.
type Flags struct {
	IsFromBot bool
	IsIM      bool
	IsForBot  bool
}

// ComputeFlags derives the routing flags for raw. Precedence matters: a
// message the bot wrote is never for the bot, whatever the channel or text.
// Direct messages from anyone else always are. Otherwise the text must
// mention botExternalID, and only when checkMention is set.
func ComputeFlags(raw *domain.RawRoutedEvent, provider, botExternalID string, checkMention bool) Flags {
	f := Flags{
		IsFromBot: botExternalID != "" && raw.ActorExternalID == botExternalID,
		IsIM:      raw.IsDirectMessage,
	}
	switch {
	case f.IsFromBot:
		f.IsForBot = false
	case f.IsIM:
		f.IsForBot = true
	case checkMention:
		f.IsForBot = MentionsBot(provider, raw.Text, botExternalID)
	}
	return f
}

// MentionsBot reports whether text contains a mention of botID in the
// provider's mention syntax. Slack writes <@ID> or <@ID|label>; every other
// provider is matched on a delimited @ID.
func MentionsBot(provider, text, botID string) bool {
	if botID == "" || text == "" {
		return false
	}
	if strings.EqualFold(provider, domain.DefaultProvider) {
		return strings.Contains(text, "<@"+botID+">") || strings.Contains(text, "<@"+botID+"|")
	}

	token := "@" + botID
	for rest, offset := text, 0; ; {
		i := strings.Index(rest, token)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(token)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		offset = start + 1
		rest = text[offset:]
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isIdentRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isIdentRune(r)
}
