package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

type fakeAsker struct {
	system, user string
	reply        string
	err          error
}

func (f *fakeAsker) Ask(_ context.Context, system, user string) (string, error) {
	f.system, f.user = system, user
	return f.reply, f.err
}

func TestReasoningSummarizer(t *testing.T) {
	asker := &fakeAsker{reply: "  they discussed deploys  "}
	s := NewReasoningSummarizer(asker, func() string { return "summarize" })

	out, err := s.Summarize(context.Background(), "earlier", tokenizeAll(history("a", "b")))
	require.NoError(t, err)

	assert.Equal(t, "they discussed deploys", out)
	assert.Equal(t, "summarize", asker.system)
	assert.Contains(t, asker.user, "earlier")
	assert.Contains(t, asker.user, "User: a\nUser: b")
}

func TestReasoningSummarizer_Empty(t *testing.T) {
	s := NewReasoningSummarizer(&fakeAsker{reply: " "}, func() string { return "" })
	_, err := s.Summarize(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptySummary)
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	key := conversation.Key("conv:C1:1")
	hist := history("a b c d e", "f g h i j", "k")

	t.Run("writes new summary", func(t *testing.T) {
		store := conversation.NewMemoryStore()
		require.NoError(t, store.Set(ctx, key, conversation.Summary{Text: "old"}))

		var gotPrev string
		var gotN int
		sum := SummarizerFunc(func(_ context.Context, prev string, msgs []TokenizedMessage) (string, error) {
			gotPrev, gotN = prev, len(msgs)
			return "new", nil
		})
		m := NewManager(words, Config{}, store, sum, nil)
		p := m.Partition(hist, 3, 1)

		assert.Equal(t, "new", m.Compact(ctx, key, hist, p))
		assert.Equal(t, "old", gotPrev)
		assert.Equal(t, len(p.ToSummarize), gotN)

		stored, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "new", stored.Text)
		last := p.ToSummarize[len(p.ToSummarize)-1].Message.Timestamp
		assert.True(t, stored.Through.Equal(last), "through = %v", stored.Through)
	})

	t.Run("failure keeps previous", func(t *testing.T) {
		store := conversation.NewMemoryStore()
		require.NoError(t, store.Set(ctx, key, conversation.Summary{Text: "old"}))
		core, logs := observer.New(zap.WarnLevel)

		sum := SummarizerFunc(func(context.Context, string, []TokenizedMessage) (string, error) {
			return "", errors.New("model overloaded")
		})
		m := NewManager(words, Config{}, store, sum, zap.New(core))
		p := m.Partition(hist, 3, 1)

		assert.Equal(t, "old", m.Compact(ctx, key, hist, p))
		assert.Equal(t, 1, logs.FilterMessage("summarization failed, keeping previous summary").Len())
	})

	t.Run("folds only messages newer than the summary", func(t *testing.T) {
		store := conversation.NewMemoryStore()
		var folded [][]string
		sum := SummarizerFunc(func(_ context.Context, prev string, msgs []TokenizedMessage) (string, error) {
			var texts []string
			for _, tm := range msgs {
				texts = append(texts, tm.Text)
			}
			folded = append(folded, texts)
			return prev + "+" + strings.Join(texts, ""), nil
		})
		m := NewManager(words, Config{}, store, sum, nil)

		h := history("a", "b", "c", "d")
		p := m.Partition(h, 2, 1)
		require.Len(t, p.ToSummarize, 3)
		assert.Equal(t, "+abc", m.Compact(ctx, key, h, p))

		assert.Equal(t, "+abc", m.Compact(ctx, key, h, m.Partition(h, 2, 1)))
		assert.Len(t, folded, 1, "unchanged history is not summarized again")

		h = history("a", "b", "c", "d", "e")
		assert.Equal(t, "+abc+d", m.Compact(ctx, key, h, m.Partition(h, 2, 1)))
		assert.Equal(t, [][]string{{"a", "b", "c"}, {"d"}}, folded)

		stored, _, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, stored.Through.Equal(h[3].Timestamp))
	})

	t.Run("short history skips summarizer", func(t *testing.T) {
		called := false
		sum := SummarizerFunc(func(context.Context, string, []TokenizedMessage) (string, error) {
			called = true
			return "x", nil
		})
		m := NewManager(words, Config{}, conversation.NewMemoryStore(), sum, nil)
		short := hist[:2]

		assert.Equal(t, "", m.Compact(ctx, key, short, m.Partition(short, 1, 1)))
		assert.False(t, called)
	})

	t.Run("nil stores", func(t *testing.T) {
		m := NewManager(words, Config{}, nil, nil, nil)
		assert.Equal(t, "", m.Compact(ctx, key, hist, m.Partition(hist, 3, 1)))
	})
}
