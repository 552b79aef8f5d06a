package memory

import (
	"strings"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/tokens"
)

// Speaker labels a history line.
type Speaker string

const (
	SpeakerUser Speaker = "User"
	SpeakerBot  Speaker = "Bot"
)

var botNames = map[string]bool{"bot": true, "autopilot": true, "assistant": true}

// TokenizedMessage is a history message with its token count.
type TokenizedMessage struct {
	Speaker       Speaker
	Text          string
	TokenCount    int
	FormattedText string
	Message       conversation.Message
}

// SpeakerOf attributes a message to the user or the assistant.
func SpeakerOf(m conversation.Message) Speaker {
	if m.Role == conversation.RoleAssistant || botNames[strings.ToLower(m.AuthorName)] {
		return SpeakerBot
	}
	return SpeakerUser
}

// Tokenize formats m as "Speaker: text" and counts the formatted line.
func Tokenize(counter tokens.Counter, m conversation.Message) TokenizedMessage {
	speaker := SpeakerOf(m)
	formatted := string(speaker) + ": " + m.Text
	return TokenizedMessage{
		Speaker:       speaker,
		Text:          m.Text,
		TokenCount:    counter.Count(formatted),
		FormattedText: formatted,
		Message:       m,
	}
}

// FormatLines joins the formatted text of msgs, one per line.
func FormatLines(msgs []TokenizedMessage) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = m.FormattedText
	}
	return strings.Join(lines, "\n")
}

func sumTokens(msgs []TokenizedMessage) int {
	n := 0
	for _, m := range msgs {
		n += m.TokenCount
	}
	return n
}
