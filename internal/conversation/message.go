package conversation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one inbound or outbound chat message. Messages are treated as
// values and never modified after they are received.
type Message struct {
	// ID is the gateway's message identifier (a timestamp on some platforms).
	ID          string    `json:"id,omitempty"`
	Role        Role      `json:"role,omitempty"`
	Text        string    `json:"text"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name,omitempty"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	IsDirect    bool      `json:"is_direct"`
	IsMention   bool      `json:"is_mention,omitempty"`
}

// Reply builds the assistant message answering m, in the same thread.
func (m Message) Reply(text, assistantID string, at time.Time) Message {
	return Message{
		Role:        RoleAssistant,
		Text:        text,
		AuthorID:    assistantID,
		AuthorName:  "assistant",
		ChannelID:   m.ChannelID,
		ChannelName: m.ChannelName,
		ThreadID:    m.threadRoot(),
		Timestamp:   at,
		IsDirect:    m.IsDirect,
	}
}

func (m Message) threadRoot() string {
	switch {
	case m.ThreadID != "":
		return m.ThreadID
	case m.ID != "":
		return m.ID
	case !m.Timestamp.IsZero():
		return strconv.FormatInt(m.Timestamp.UnixMicro(), 10)
	default:
		return ""
	}
}

const keyPrefix = "conv:"

// Key identifies a conversation for history and summary persistence.
type Key string

// KeyFor derives the conversation key for a message. Thread replies share the
// key of the thread; a top-level message starts a thread keyed by its own id.
func KeyFor(m Message) (Key, error) {
	root := m.threadRoot()
	if m.ChannelID == "" || root == "" {
		return "", fmt.Errorf("%w: channel %q thread %q", ErrInvalidKey, m.ChannelID, root)
	}
	return Key(keyPrefix + m.ChannelID + ":" + root), nil
}

// ParseKey validates s and returns it as a Key.
func ParseKey(s string) (Key, error) {
	k := Key(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Validate reports whether k has the form conv:{channel}:{thread}.
func (k Key) Validate() error {
	rest, ok := strings.CutPrefix(string(k), keyPrefix)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, string(k))
	}
	channel, thread, ok := strings.Cut(rest, ":")
	if !ok || channel == "" || thread == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, string(k))
	}
	return nil
}

// Channel returns the channel component of the key.
func (k Key) Channel() string {
	rest := strings.TrimPrefix(string(k), keyPrefix)
	channel, _, _ := strings.Cut(rest, ":")
	return channel
}

func (k Key) String() string { return string(k) }
