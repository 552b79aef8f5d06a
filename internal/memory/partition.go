package memory

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/tokens"
)

const (
	// DefaultMinMessages is the shortest history worth summarizing.
	DefaultMinMessages = 3

	// candidateBuffer is the headroom SuggestCandidates frees beyond the budget.
	candidateBuffer = 200
	maxCandidates   = 3
)

// Stats describes a partition.
type Stats struct {
	TotalTokens     int `json:"total_tokens"`
	KeptCount       int `json:"kept_count"`
	SummarizedCount int `json:"summarized_count"`
}

// Partition splits history into a live window and messages to summarize.
// Both lists are in chronological order and together reconstruct the history.
type Partition struct {
	Live        []TokenizedMessage
	ToSummarize []TokenizedMessage
	Stats       Stats
}

// Config holds the memory policy.
type Config struct {
	Budget         int
	PreserveRecent int
	MinMessages    int
}

// Manager partitions history and maintains the rolling summary.
type Manager struct {
	counter    tokens.Counter
	cfg        Config
	summaries  conversation.SummaryStore
	summarizer Summarizer
	logger     *zap.Logger
}

// NewManager creates a Manager. summaries and summarizer may be nil, in which
// case Compact only returns the stored summary (or nothing).
func NewManager(counter tokens.Counter, cfg Config, summaries conversation.SummaryStore, summarizer Summarizer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinMessages <= 0 {
		cfg.MinMessages = DefaultMinMessages
	}
	return &Manager{
		counter:    counter,
		cfg:        cfg,
		summaries:  summaries,
		summarizer: summarizer,
		logger:     logger.Named("memory"),
	}
}

// Config returns the manager's policy.
func (m *Manager) Config() Config { return m.cfg }

// Counter returns the token counter used for partitioning.
func (m *Manager) Counter() tokens.Counter { return m.counter }

// PartitionDefault partitions with the configured budget and recency floor.
func (m *Manager) PartitionDefault(history []conversation.Message) Partition {
	return m.Partition(history, m.cfg.Budget, m.cfg.PreserveRecent)
}

// Partition splits history (oldest first) against budget tokens.
//
// The last preserveRecent messages are kept first. If they alone exceed the
// budget they are trimmed from the oldest end, so the budget is never
// exceeded. Otherwise older messages are added newest first until one does
// not fit; that message and everything older are summarized.
func (m *Manager) Partition(history []conversation.Message, budget, preserveRecent int) Partition {
	if len(history) == 0 {
		return Partition{}
	}

	all := make([]TokenizedMessage, len(history))
	for i, msg := range history {
		all[i] = Tokenize(m.counter, msg)
	}

	if budget <= 0 {
		m.logger.Warn("non-positive memory budget, summarizing all history", zap.Int("budget", budget))
		return newPartition(nil, all)
	}

	if preserveRecent < 0 {
		preserveRecent = 0
	}
	if preserveRecent > len(all) {
		preserveRecent = len(all)
	}

	// split is the index of the first live message.
	split := len(all) - preserveRecent
	recentTokens := sumTokens(all[split:])

	if recentTokens > budget {
		m.logger.Debug("recent messages exceed budget",
			zap.Int("preserve_recent", preserveRecent),
			zap.Int("recent_tokens", recentTokens),
			zap.Int("budget", budget))
		for split < len(all) && recentTokens > budget {
			recentTokens -= all[split].TokenCount
			split++
		}
		return newPartition(all[split:], all[:split])
	}

	available := budget - recentTokens
	for split > 0 && all[split-1].TokenCount <= available {
		available -= all[split-1].TokenCount
		split--
	}
	return newPartition(all[split:], all[:split])
}

func newPartition(live, toSummarize []TokenizedMessage) Partition {
	p := Partition{
		Live:        append([]TokenizedMessage(nil), live...),
		ToSummarize: append([]TokenizedMessage(nil), toSummarize...),
	}
	p.Stats = Stats{
		TotalTokens:     sumTokens(p.Live),
		KeptCount:       len(p.Live),
		SummarizedCount: len(p.ToSummarize),
	}
	return p
}

// ShouldSummarize applies the floor on top of the token decision: short
// conversations are never summarized.
func (m *Manager) ShouldSummarize(history []conversation.Message, p Partition) bool {
	return len(history) >= m.cfg.MinMessages && len(p.ToSummarize) > 0
}

// SuggestCandidates returns up to three of the oldest messages whose removal
// frees enough tokens to bring history under budget with some headroom.
// It returns nil when history is short or already fits.
func (m *Manager) SuggestCandidates(history []conversation.Message, budget int) []conversation.Message {
	if len(history) < DefaultMinMessages {
		return nil
	}

	all := make([]TokenizedMessage, len(history))
	for i, msg := range history {
		all[i] = Tokenize(m.counter, msg)
	}
	total := sumTokens(all)
	if total <= budget {
		return nil
	}

	toFree := total - budget + candidateBuffer
	freed := 0
	var out []conversation.Message
	for _, tm := range all {
		if freed >= toFree || len(out) >= maxCandidates {
			break
		}
		out = append(out, tm.Message)
		freed += tm.TokenCount
	}
	return out
}

// ContextTokens is the token breakdown of the context handed to generation.
type ContextTokens struct {
	Summary int `json:"summary_tokens"`
	Live    int `json:"live_tokens"`
	Query   int `json:"query_tokens"`
	Total   int `json:"total_context_tokens"`
}

// ContextTokens counts the summary, the formatted live history and the query.
func (m *Manager) ContextTokens(summary string, live []TokenizedMessage, query string) ContextTokens {
	ct := ContextTokens{
		Summary: m.counter.Count(summary),
		Live:    m.counter.Count(FormatLines(live)),
		Query:   m.counter.Count(query),
	}
	ct.Total = ct.Summary + ct.Live + ct.Query
	return ct
}

// Summary returns the stored summary for key, or "" when there is none or the
// store fails.
func (m *Manager) Summary(ctx context.Context, key conversation.Key) string {
	return m.storedSummary(ctx, key).Text
}

func (m *Manager) storedSummary(ctx context.Context, key conversation.Key) conversation.Summary {
	if m.summaries == nil {
		return conversation.Summary{}
	}
	sum, ok, err := m.summaries.Get(ctx, key)
	if err != nil {
		m.logger.Warn("summary read failed", zap.String("conversation.key", key.String()), zap.Error(err))
		return conversation.Summary{}
	}
	if !ok {
		return conversation.Summary{}
	}
	return sum
}
