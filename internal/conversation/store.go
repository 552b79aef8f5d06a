package conversation

import (
	"context"
	"time"
)

// DefaultHistoryWindow is the number of messages a store keeps per conversation.
const DefaultHistoryWindow = 50

// HistoryStore persists ordered conversation history.
type HistoryStore interface {
	// Append adds messages to the end of the conversation. Stores trim the
	// oldest messages beyond their window.
	Append(ctx context.Context, key Key, msgs ...Message) error

	// Read returns up to limit of the most recent messages, oldest first.
	// A limit <= 0 returns the whole window.
	Read(ctx context.Context, key Key, limit int) ([]Message, error)
}

// Summary is the rolling summary of a conversation.
type Summary struct {
	Text string
	// Through is the timestamp of the newest message folded into Text.
	Through time.Time
}

// SummaryStore persists the rolling summary of a conversation.
type SummaryStore interface {
	// Get returns the summary and whether one exists.
	Get(ctx context.Context, key Key) (Summary, bool, error)
	Set(ctx context.Context, key Key, summary Summary) error
}

// Store combines both stores with a lifecycle.
type Store interface {
	HistoryStore
	SummaryStore
	Close() error
}
