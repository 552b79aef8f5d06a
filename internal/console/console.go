// Package console is the interactive terminal chat for askd.
package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
	turnprogress "github.com/fyrsmithlabs/askd/internal/progress"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	transcriptSize  = 20

	// Channel is the channel id console turns are recorded under.
	Channel = "console"
)

// TurnProcessor answers messages.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, msg conversation.Message, opts ...orchestrator.TurnOption) (*orchestrator.Turn, error)
}

// Config configures the console.
type Config struct {
	Author string
	// BudgetTokens is the live history budget shown as the memory bar.
	BudgetTokens int
}

type speaker int

const (
	speakerUser speaker = iota
	speakerBot
	speakerError
)

type entry struct {
	who  speaker
	text string
}

// Model is the bubbletea chat model.
type Model struct {
	ctx     context.Context
	turns   TurnProcessor
	cfg     Config
	session string

	input   textinput.Model
	spinner spinner.Model
	memory  progress.Model

	transcript []entry
	busy       bool
	note       string
	notes      chan string
	quitting   bool

	latencies  []float64
	liveTokens int
	turnCount  int
}

type turnMsg struct {
	turn    *orchestrator.Turn
	err     error
	elapsed time.Duration
}

type noteMsg string

// NewModel creates a chat model. Every turn of one model shares a thread.
func NewModel(ctx context.Context, turns TurnProcessor, cfg Config) Model {
	in := textinput.New()
	in.Placeholder = "Ask about docs, tickets or anything on the web"
	in.Prompt = "› "
	in.CharLimit = 2000
	in.Width = 72
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = sparklineStyle

	if cfg.Author == "" {
		cfg.Author = "you"
	}

	return Model{
		ctx:     ctx,
		turns:   turns,
		cfg:     cfg,
		session: uuid.NewString(),
		input:   in,
		spinner: sp,
		memory: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(40),
		),
		notes:     make(chan string, 16),
		latencies: make([]float64, 0, historySize),
	}
}

// Run starts the console and blocks until the user quits.
func Run(ctx context.Context, turns TurnProcessor, cfg Config) error {
	_, err := tea.NewProgram(NewModel(ctx, turns, cfg), tea.WithContext(ctx)).Run()
	return err
}

// Init starts the cursor blinking and the single progress note listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForNote(m.notes))
}

// noteSink forwards progress notes into the program without blocking the emitter.
type noteSink chan string

func (s noteSink) Notify(_ context.Context, text string) error {
	select {
	case s <- text:
	default:
	}
	return nil
}

var _ turnprogress.Sink = noteSink(nil)

func waitForNote(ch chan string) tea.Cmd {
	return func() tea.Msg {
		return noteMsg(<-ch)
	}
}

func (m Model) message(text string) conversation.Message {
	return conversation.Message{
		ID:         uuid.NewString(),
		Role:       conversation.RoleUser,
		Text:       text,
		AuthorID:   m.cfg.Author,
		AuthorName: m.cfg.Author,
		ChannelID:  Channel,
		ThreadID:   m.session,
		Timestamp:  time.Now(),
		IsDirect:   true,
	}
}

func (m Model) ask(text string) tea.Cmd {
	msg := m.message(text)
	return func() tea.Msg {
		start := time.Now()
		turn, err := m.turns.ProcessTurn(m.ctx, msg, orchestrator.WithSink(noteSink(m.notes)))
		return turnMsg{turn: turn, err: err, elapsed: time.Since(start)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.busy {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			m.note = ""
			m.transcript = appendEntry(m.transcript, entry{who: speakerUser, text: text})
			return m, tea.Batch(m.ask(text), m.spinner.Tick)
		}

	case noteMsg:
		if m.busy {
			m.note = string(msg)
		}
		return m, waitForNote(m.notes)

	case turnMsg:
		m.busy = false
		m.note = ""
		if msg.err != nil {
			m.transcript = appendEntry(m.transcript, entry{who: speakerError, text: msg.err.Error()})
			return m, nil
		}
		m.turnCount++
		m.latencies = appendToHistory(m.latencies, msg.elapsed.Seconds())
		m.liveTokens = liveTokens(msg.turn)
		m.transcript = appendEntry(m.transcript, entry{who: speakerBot, text: msg.turn.Reply})
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func liveTokens(turn *orchestrator.Turn) int {
	total := 0
	for _, tm := range turn.Bundle.LiveHistory {
		total += tm.TokenCount
	}
	return total
}

func appendEntry(t []entry, e entry) []entry {
	t = append(t, e)
	if len(t) > transcriptSize {
		t = t[len(t)-transcriptSize:]
	}
	return t
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// View renders the chat.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(" askd ") + "  " + dimStyle.Render("session "+m.session[:8]) + "\n\n")

	for _, e := range m.transcript {
		switch e.who {
		case speakerUser:
			b.WriteString(userStyle.Render(m.cfg.Author+": ") + e.text + "\n")
		case speakerBot:
			b.WriteString(botStyle.Render("askd: ") + e.text + "\n")
		case speakerError:
			b.WriteString(errorStyle.Render("✗ "+e.text) + "\n")
		}
	}

	if m.busy {
		note := m.note
		if note == "" {
			note = "Thinking..."
		}
		b.WriteString("\n" + m.spinner.View() + " " + dimStyle.Render(note) + "\n")
	}

	b.WriteString("\n" + m.renderStats() + "\n\n")
	b.WriteString(m.input.View() + "\n")
	b.WriteString(footerKeyStyle.Render("[enter]") + footerStyle.Render(" ask  ") +
		footerKeyStyle.Render("[esc]") + footerStyle.Render(" quit"))

	return containerStyle.Render(b.String())
}

func (m Model) renderStats() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("┃ Session") + "\n")

	last := 0.0
	if n := len(m.latencies); n > 0 {
		last = m.latencies[n-1]
	}
	b.WriteString(labelStyle.Render("  Turns: ") + valueStyle.Render(fmt.Sprintf("%d", m.turnCount)) +
		labelStyle.Render("  Last: ") + valueStyle.Render(FormatLatency(last)) + " " + latencyBadge(last) +
		"   " + createSparkline(m.latencies) + "\n")

	ratio := 0.0
	if m.cfg.BudgetTokens > 0 {
		ratio = min(float64(m.liveTokens)/float64(m.cfg.BudgetTokens), 1.0)
	}
	b.WriteString(labelStyle.Render("  Memory: ") + m.memory.ViewAs(ratio) + " " +
		dimStyle.Render(FormatTokens(m.liveTokens, m.cfg.BudgetTokens)))
	return b.String()
}

// latencyBadge colours a turn latency in seconds.
func latencyBadge(seconds float64) string {
	switch {
	case seconds < 5:
		return healthyStyle.Render("[✓]")
	case seconds < 20:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}
