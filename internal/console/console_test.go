package console

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/askd/internal/aggregator"
	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/memory"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

type fakeTurns struct {
	got []conversation.Message
	err error
}

func (f *fakeTurns) ProcessTurn(_ context.Context, msg conversation.Message, opts ...orchestrator.TurnOption) (*orchestrator.Turn, error) {
	f.got = append(f.got, msg)
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Turn{
		Reply: "Rotate it from the ops console.",
		Bundle: aggregator.Bundle{LiveHistory: []memory.TokenizedMessage{
			{TokenCount: 120}, {TokenCount: 30},
		}},
	}, nil
}

func newTestModel(turns TurnProcessor) Model {
	return NewModel(context.Background(), turns, Config{Author: "dana", BudgetTokens: 300})
}

func TestNewModel(t *testing.T) {
	m := newTestModel(&fakeTurns{})
	assert.True(t, m.input.Focused())
	assert.False(t, m.busy)
	assert.NotEmpty(t, m.session)
	assert.NotNil(t, m.Init())

	anon := NewModel(context.Background(), &fakeTurns{}, Config{})
	assert.Equal(t, "you", anon.cfg.Author)
}

func TestModel_Update_QuitKey(t *testing.T) {
	m := newTestModel(&fakeTurns{})
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})

	assert.True(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, updated.(Model).View())
}

func TestModel_AskRoundTrip(t *testing.T) {
	turns := &fakeTurns{}
	m := newTestModel(turns)
	m.input.SetValue("  how do I rotate the deploy key?  ")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Empty(t, m.input.Value())
	require.Len(t, m.transcript, 1)
	assert.Equal(t, entry{who: speakerUser, text: "how do I rotate the deploy key?"}, m.transcript[0])

	// A second enter while busy is ignored.
	m.input.SetValue("again")
	updated, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	m = updated.(Model)

	msg := m.ask("how do I rotate the deploy key?")()
	res, ok := msg.(turnMsg)
	require.True(t, ok)
	require.NoError(t, res.err)

	require.Len(t, turns.got, 1)
	sent := turns.got[0]
	assert.Equal(t, Channel, sent.ChannelID)
	assert.Equal(t, m.session, sent.ThreadID)
	assert.Equal(t, "dana", sent.AuthorID)
	assert.True(t, sent.IsDirect)

	updated, _ = m.Update(noteMsg("🔍 Searching through knowledge base..."))
	m = updated.(Model)
	assert.Equal(t, "🔍 Searching through knowledge base...", m.note)

	res.elapsed = 1500 * time.Millisecond
	updated, _ = m.Update(res)
	m = updated.(Model)
	assert.False(t, m.busy)
	assert.Empty(t, m.note)
	assert.Equal(t, 1, m.turnCount)
	assert.Equal(t, 150, m.liveTokens)
	assert.Equal(t, []float64{1.5}, m.latencies)
	assert.Equal(t, entry{who: speakerBot, text: "Rotate it from the ops console."}, m.transcript[len(m.transcript)-1])

	view := m.View()
	assert.Contains(t, view, "Rotate it from the ops console.")
	assert.Contains(t, view, "150 / 300 tokens (50%)")
}

func TestModel_TurnError(t *testing.T) {
	m := newTestModel(&fakeTurns{err: errors.New("message text is empty")})
	m.busy = true

	res := m.ask("x")()
	updated, _ := m.Update(res)
	m = updated.(Model)

	assert.False(t, m.busy)
	assert.Zero(t, m.turnCount)
	require.Len(t, m.transcript, 1)
	assert.Equal(t, speakerError, m.transcript[0].who)
	assert.True(t, strings.Contains(m.View(), "message text is empty"))
}

func TestModel_NoteWhileIdleIsDropped(t *testing.T) {
	m := newTestModel(&fakeTurns{})
	updated, cmd := m.Update(noteMsg("late"))

	assert.Empty(t, updated.(Model).note)
	assert.NotNil(t, cmd, "listener must be re-armed")
}

func TestNoteSink_NeverBlocks(t *testing.T) {
	sink := noteSink(make(chan string, 1))
	require.NoError(t, sink.Notify(context.Background(), "one"))
	require.NoError(t, sink.Notify(context.Background(), "two"))
	assert.Equal(t, "one", <-sink)
}

func TestAppendBounds(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])

	var tr []entry
	for i := 0; i < transcriptSize+3; i++ {
		tr = appendEntry(tr, entry{text: "x"})
	}
	assert.Len(t, tr, transcriptSize)
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "250.0ms", FormatLatency(0.25))
	assert.Equal(t, "2.5s", FormatLatency(2.5))
	assert.Equal(t, "42 tokens", FormatTokens(42, 0))
	assert.Equal(t, "750 / 3000 tokens (25%)", FormatTokens(750, 3000))
}
