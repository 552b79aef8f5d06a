package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// ErrEmptySummary is returned when the summarizer produced no text.
var ErrEmptySummary = errors.New("summarizer returned empty summary")

// Summarizer folds messages into a previous summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, msgs []TokenizedMessage) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, previous string, msgs []TokenizedMessage) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, previous string, msgs []TokenizedMessage) (string, error) {
	return f(ctx, previous, msgs)
}

// Asker is the slice of the reasoning service the summarizer needs.
type Asker interface {
	Ask(ctx context.Context, system, user string) (string, error)
}

// ReasoningSummarizer summarizes through a reasoning service.
type ReasoningSummarizer struct {
	asker  Asker
	system func() string
}

// NewReasoningSummarizer creates a summarizer. system is read on each call so
// prompt reloads take effect.
func NewReasoningSummarizer(asker Asker, system func() string) *ReasoningSummarizer {
	return &ReasoningSummarizer{asker: asker, system: system}
}

// Summarize implements Summarizer.
func (s *ReasoningSummarizer) Summarize(ctx context.Context, previous string, msgs []TokenizedMessage) (string, error) {
	var b strings.Builder
	if previous != "" {
		b.WriteString("Existing summary:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages to fold in:\n")
	b.WriteString(FormatLines(msgs))

	out, err := s.asker.Ask(ctx, s.system(), b.String())
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptySummary
	}
	return out, nil
}

// Compact refreshes the rolling summary for key when the partition calls for
// it and returns the summary to use this turn. Only messages newer than the
// stored summary are folded in. Failures are logged and the previous summary
// is kept.
func (m *Manager) Compact(ctx context.Context, key conversation.Key, history []conversation.Message, p Partition) string {
	previous := m.storedSummary(ctx, key)

	if !m.ShouldSummarize(history, p) || m.summarizer == nil {
		return previous.Text
	}

	fresh := unsummarized(p.ToSummarize, previous.Through)
	logger := m.logger.With(
		zap.String("conversation.key", key.String()),
		zap.Int("summarized_count", len(fresh)),
	)
	if len(fresh) == 0 {
		logger.Debug("summary already covers history")
		return previous.Text
	}

	summary, err := m.summarizer.Summarize(ctx, previous.Text, fresh)
	if err != nil {
		logger.Warn("summarization failed, keeping previous summary", zap.Error(err))
		return previous.Text
	}

	if m.summaries != nil {
		next := conversation.Summary{Text: summary, Through: newest(fresh, previous.Through)}
		if err := m.summaries.Set(ctx, key, next); err != nil {
			logger.Warn("summary write failed", zap.Error(err))
		}
	}
	logger.Debug("summary refreshed", zap.Int("summary_chars", len(summary)))
	return summary
}

// unsummarized returns the messages sent after through. Messages without a
// timestamp cannot be placed and are always included.
func unsummarized(msgs []TokenizedMessage, through time.Time) []TokenizedMessage {
	var out []TokenizedMessage
	for _, m := range msgs {
		ts := m.Message.Timestamp
		if ts.IsZero() || ts.After(through) {
			out = append(out, m)
		}
	}
	return out
}

func newest(msgs []TokenizedMessage, through time.Time) time.Time {
	for _, m := range msgs {
		if m.Message.Timestamp.After(through) {
			through = m.Message.Timestamp
		}
	}
	return through
}
