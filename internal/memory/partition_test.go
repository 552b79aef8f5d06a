package memory

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

type countFunc func(string) int

func (f countFunc) Count(s string) int { return f(s) }

// words counts whitespace-separated words, so "User: a b" is 3 tokens.
var words = countFunc(func(s string) int { return len(strings.Fields(s)) })

func history(texts ...string) []conversation.Message {
	msgs := make([]conversation.Message, len(texts))
	for i, text := range texts {
		msgs[i] = conversation.Message{
			ID:        fmt.Sprintf("%d", i),
			Text:      text,
			AuthorID:  "U1",
			ChannelID: "C1",
			Timestamp: time.Unix(int64(i), 0),
		}
	}
	return msgs
}

func ids(msgs []TokenizedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Message.ID
	}
	return out
}

func TestPartition_ScenarioA(t *testing.T) {
	five := countFunc(func(s string) int { return 5 })
	m := NewManager(five, Config{}, nil, nil, zaptest.NewLogger(t))

	texts := make([]string, 12)
	for i := range texts {
		texts[i] = fmt.Sprintf("short message %d", i)
	}
	p := m.Partition(history(texts...), 40, 2)

	assert.Equal(t, []string{"4", "5", "6", "7", "8", "9", "10", "11"}, ids(p.Live))
	assert.Equal(t, []string{"0", "1", "2", "3"}, ids(p.ToSummarize))
	assert.Equal(t, Stats{TotalTokens: 40, KeptCount: 8, SummarizedCount: 4}, p.Stats)
}

func TestPartition(t *testing.T) {
	m := NewManager(words, Config{}, nil, nil, zaptest.NewLogger(t))

	tests := []struct {
		name           string
		texts          []string
		budget         int
		preserveRecent int
		wantLive       []string
		wantSummarize  []string
		wantTokens     int
	}{
		{
			name:   "empty history",
			budget: 100,
		},
		{
			name:           "everything fits",
			texts:          []string{"a", "b c", "d"},
			budget:         100,
			preserveRecent: 2,
			wantLive:       []string{"0", "1", "2"},
			wantTokens:     7,
		},
		{
			// tokens: 2, 6, 2, 2
			name:           "first misfit stops the walk",
			texts:          []string{"a", "b c d e f", "g", "h"},
			budget:         7,
			preserveRecent: 1,
			wantLive:       []string{"2", "3"},
			wantSummarize:  []string{"0", "1"},
			wantTokens:     4,
		},
		{
			// tokens: 2, 4, 5; recent (4+5) exceeds 6, oldest recent dropped
			name:           "recent messages truncated to fit",
			texts:          []string{"a", "b c d", "e f g h"},
			budget:         6,
			preserveRecent: 2,
			wantLive:       []string{"2"},
			wantSummarize:  []string{"0", "1"},
			wantTokens:     5,
		},
		{
			name:           "single recent message larger than budget",
			texts:          []string{"a", "b c d e f g"},
			budget:         3,
			preserveRecent: 1,
			wantSummarize:  []string{"0", "1"},
		},
		{
			name:           "zero budget summarizes everything",
			texts:          []string{"a", "b"},
			budget:         0,
			preserveRecent: 2,
			wantSummarize:  []string{"0", "1"},
		},
		{
			name:           "negative budget summarizes everything",
			texts:          []string{"a"},
			budget:         -5,
			preserveRecent: 1,
			wantSummarize:  []string{"0"},
		},
		{
			name:           "preserve larger than history",
			texts:          []string{"a", "b"},
			budget:         10,
			preserveRecent: 5,
			wantLive:       []string{"0", "1"},
			wantTokens:     4,
		},
		{
			name:           "negative preserve treated as zero",
			texts:          []string{"a", "b"},
			budget:         2,
			preserveRecent: -1,
			wantLive:       []string{"1"},
			wantSummarize:  []string{"0"},
			wantTokens:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := m.Partition(history(tt.texts...), tt.budget, tt.preserveRecent)

			assert.Equal(t, orEmpty(tt.wantLive), ids(p.Live))
			assert.Equal(t, orEmpty(tt.wantSummarize), ids(p.ToSummarize))
			assert.Equal(t, tt.wantTokens, p.Stats.TotalTokens)
			assert.Equal(t, len(tt.wantLive), p.Stats.KeptCount)
			assert.Equal(t, len(tt.wantSummarize), p.Stats.SummarizedCount)
		})
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// TestPartition_Completeness checks over random histories that the two halves
// reconstruct the history and that the live half never exceeds the budget.
func TestPartition_Completeness(t *testing.T) {
	m := NewManager(words, Config{}, nil, nil, nil)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		n := rng.Intn(30)
		texts := make([]string, n)
		for j := range texts {
			texts[j] = strings.TrimSpace(strings.Repeat("w ", rng.Intn(12)))
		}
		budget := rng.Intn(80) - 5
		preserve := rng.Intn(6)
		hist := history(texts...)

		p := m.Partition(hist, budget, preserve)

		rebuilt := append(ids(p.ToSummarize), ids(p.Live)...)
		require.Equal(t, ids(tokenizeAll(hist)), rebuilt, "case %d", i)
		require.Equal(t, n, p.Stats.KeptCount+p.Stats.SummarizedCount)
		if budget > 0 {
			require.LessOrEqual(t, p.Stats.TotalTokens, budget, "case %d", i)
		} else {
			require.Empty(t, p.Live)
		}
		require.Equal(t, sumTokens(p.Live), p.Stats.TotalTokens)
	}
}

func tokenizeAll(msgs []conversation.Message) []TokenizedMessage {
	out := make([]TokenizedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = Tokenize(words, m)
	}
	return out
}

func TestTokenize_Speaker(t *testing.T) {
	tests := []struct {
		msg  conversation.Message
		want Speaker
	}{
		{conversation.Message{Text: "hi", AuthorName: "alice"}, SpeakerUser},
		{conversation.Message{Text: "hi", AuthorName: "Autopilot"}, SpeakerBot},
		{conversation.Message{Text: "hi", AuthorName: "BOT"}, SpeakerBot},
		{conversation.Message{Text: "hi", Role: conversation.RoleAssistant}, SpeakerBot},
	}
	for _, tt := range tests {
		tm := Tokenize(words, tt.msg)
		assert.Equal(t, tt.want, tm.Speaker)
		assert.Equal(t, string(tt.want)+": hi", tm.FormattedText)
		assert.Equal(t, 2, tm.TokenCount)
	}
}

func TestShouldSummarize(t *testing.T) {
	m := NewManager(words, Config{}, nil, nil, nil)

	short := history("a b c d e", "f g h i j")
	p := m.Partition(short, 3, 1)
	require.NotEmpty(t, p.ToSummarize)
	assert.False(t, m.ShouldSummarize(short, p), "two messages are never summarized")

	long := history("a b c d e", "f g h i j", "k")
	p = m.Partition(long, 3, 1)
	assert.True(t, m.ShouldSummarize(long, p))

	p = m.Partition(long, 100, 1)
	assert.False(t, m.ShouldSummarize(long, p), "nothing to summarize")
}

func TestSuggestCandidates(t *testing.T) {
	m := NewManager(words, Config{}, nil, nil, nil)

	assert.Nil(t, m.SuggestCandidates(history("a", "b"), 0))
	assert.Nil(t, m.SuggestCandidates(history("a", "b", "c"), 100))

	got := m.SuggestCandidates(history("a", "b", "c", "d", "e"), 1)
	require.Len(t, got, 3, "capped at three")
	assert.Equal(t, "0", got[0].ID)

	big := strings.Repeat("w ", 300)
	got = m.SuggestCandidates(history(big, "a", "b", "c"), 300)
	require.Len(t, got, 1, "first message frees enough")
}

func TestContextTokens(t *testing.T) {
	m := NewManager(words, Config{}, nil, nil, nil)
	live := tokenizeAll(history("a b", "c"))

	ct := m.ContextTokens("one two three", live, "why now")

	assert.Equal(t, ContextTokens{Summary: 3, Live: 5, Query: 2, Total: 10}, ct)
}
