package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/aggregator"
	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/memory"
	"github.com/fyrsmithlabs/askd/internal/planner"
	"github.com/fyrsmithlabs/askd/internal/progress"
	"github.com/fyrsmithlabs/askd/internal/respond"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
	"github.com/fyrsmithlabs/askd/internal/tools"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/askd/internal/orchestrator"

	// DefaultTurnTimeout bounds a turn when no configuration is given.
	DefaultTurnTimeout = 60 * time.Second

	// DefaultAssistantID is the author id recorded on replies.
	DefaultAssistantID = "askd"

	historyWriteTimeout = 5 * time.Second
)

// Planner decides which tools a turn needs.
type Planner interface {
	Plan(ctx context.Context, msg conversation.Message, part memory.Partition, summary string) planner.ExecutionPlan
}

// Executor runs a plan.
type Executor interface {
	Execute(ctx context.Context, plan planner.ExecutionPlan) map[tools.ID][]tools.Result
}

// Redactor scrubs secrets from the final reply.
type Redactor interface {
	Redact(text string) string
}

// Config tunes the orchestrator.
type Config struct {
	TurnTimeout      time.Duration
	HistoryLimit     int
	ProgressInterval time.Duration
	AssistantID      string
}

// Deps are the collaborators of a turn. All are required.
type Deps struct {
	History   conversation.HistoryStore
	Memory    *memory.Manager
	Planner   Planner
	Executor  Executor
	Generator respond.Generator
}

// Turn is the outcome of ProcessTurn.
type Turn struct {
	ID       string                `json:"id"`
	Key      conversation.Key      `json:"conversation_key"`
	Reply    string                `json:"reply"`
	Bundle   aggregator.Bundle     `json:"bundle"`
	Plan     planner.ExecutionPlan `json:"plan"`
	Fallback bool                  `json:"fallback"`
	Duration time.Duration         `json:"duration"`
}

// Orchestrator runs turns.
type Orchestrator struct {
	deps     Deps
	cfg      Config
	redactor Redactor
	now      func() time.Time

	logger    *zap.Logger
	tracer    trace.Tracer
	turns     metric.Int64Counter
	durations metric.Float64Histogram
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRedactor scrubs replies before they are returned or stored.
func WithRedactor(r Redactor) Option {
	return func(o *Orchestrator) { o.redactor = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, tel *telemetry.Telemetry, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = conversation.DefaultHistoryWindow
	}
	if cfg.AssistantID == "" {
		cfg.AssistantID = DefaultAssistantID
	}
	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Named("orchestrator"),
		tracer: tel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}

	meter := tel.Meter(instrumentationName)
	var err error
	o.turns, err = meter.Int64Counter("askd.turns",
		metric.WithDescription("Completed turns by outcome"),
		metric.WithUnit("{turn}"))
	if err != nil {
		o.logger.Warn("turn counter unavailable", zap.Error(err))
	}
	o.durations, err = meter.Float64Histogram("askd.turn.duration",
		metric.WithDescription("End-to-end turn latency"),
		metric.WithUnit("s"))
	if err != nil {
		o.logger.Warn("turn duration histogram unavailable", zap.Error(err))
	}
	return o
}

type turnOptions struct {
	sink progress.Sink
}

// TurnOption configures one ProcessTurn call.
type TurnOption func(*turnOptions)

// WithSink delivers progress notifications for this turn to sink.
func WithSink(sink progress.Sink) TurnOption {
	return func(t *turnOptions) { t.sink = sink }
}

// ProcessTurn answers msg. It returns an error only for invalid input;
// every other failure still produces a non-empty reply.
func (o *Orchestrator) ProcessTurn(ctx context.Context, msg conversation.Message, opts ...TurnOption) (*Turn, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return nil, ErrEmptyMessage
	}
	if msg.ChannelID == "" {
		return nil, ErrMissingChannel
	}
	key, err := conversation.KeyFor(msg)
	if err != nil {
		return nil, fmt.Errorf("conversation key: %w", err)
	}

	var topts turnOptions
	for _, opt := range opts {
		opt(&topts)
	}

	start := o.now()
	turn := &Turn{ID: uuid.NewString(), Key: key}

	ctx = logging.WithTurnID(ctx, turn.ID)
	if logging.ValidConversationKey(key.String()) {
		ctx = logging.WithConversationKey(ctx, key.String())
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.process_turn", trace.WithAttributes(
		attribute.String("turn.id", turn.ID),
		attribute.String("conversation.key", key.String()),
	))
	defer span.End()

	var emitter *progress.Emitter
	if topts.sink != nil {
		emitter = progress.NewEmitter(ctx, topts.sink, o.cfg.ProgressInterval, o.logger)
		ctx = progress.WithEmitter(ctx, emitter)
	}

	logger := logging.For(ctx, o.logger)
	if logging.ConversationKeyFromContext(ctx) == "" {
		logger = logger.With(zap.String("conversation.key", key.String()))
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	o.run(turnCtx, msg, turn, logger)

	if emitter != nil {
		if turn.Fallback {
			emitter.Emit(progress.Warning, "partial_failure", "")
		} else {
			emitter.Emit(progress.Success, "done", "")
		}
		emitter.Close()
	}

	o.appendHistory(ctx, key, msg, turn.Reply, logger)

	turn.Duration = o.now().Sub(start)
	outcome := OutcomeAnswered
	switch {
	case turn.Bundle.Partial:
		outcome = OutcomePartial
	case turn.Fallback:
		outcome = OutcomeFallback
	}
	o.record(ctx, span, turn, outcome)
	logger.Info("turn complete",
		zap.String("outcome", outcome),
		zap.Strings("tools", idStrings(turn.Plan.ToolsNeeded)),
		zap.Int("reply_chars", len(turn.Reply)),
		zap.Duration("duration", turn.Duration))
	return turn, nil
}

// run fills turn. It never fails; ctx carries the turn deadline.
func (o *Orchestrator) run(ctx context.Context, msg conversation.Message, turn *Turn, logger *zap.Logger) {
	emitter := progress.FromContext(ctx)
	emitter.Emit(progress.Thinking, "analyzing", "")

	history, err := o.deps.History.Read(ctx, turn.Key, o.cfg.HistoryLimit)
	if err != nil {
		logger.Warn("history read failed, continuing without history", zap.Error(err))
		history = nil
	}

	mem := o.deps.Memory
	part := mem.PartitionDefault(history)
	if mem.ShouldSummarize(history, part) {
		emitter.Emit(progress.Processing, "summarizing", "")
	}
	summary := mem.Compact(ctx, turn.Key, history, part)

	breakdown := mem.ContextTokens(summary, part.Live, msg.Text)
	logger.Debug("context tokens",
		zap.Int("summary", breakdown.Summary),
		zap.Int("live", breakdown.Live),
		zap.Int("query", breakdown.Query),
		zap.Int("total", breakdown.Total),
		zap.Int("kept", part.Stats.KeptCount),
		zap.Int("summarized", part.Stats.SummarizedCount))
	if candidates := mem.SuggestCandidates(history, mem.Config().Budget); len(candidates) > 0 {
		logger.Debug("summarization candidates", zap.Int("count", len(candidates)))
	}

	emitter.Emit(progress.Thinking, "planning", "")
	turn.Plan = o.deps.Planner.Plan(ctx, msg, part, summary)

	var results map[tools.ID][]tools.Result
	if !turn.Plan.Empty() {
		results = o.deps.Executor.Execute(ctx, turn.Plan)
	}

	partial := ctx.Err() != nil
	turn.Bundle = aggregator.Build(aggregator.Input{
		Message:   msg,
		Key:       turn.Key,
		Plan:      turn.Plan,
		Results:   results,
		Partition: part,
		Summary:   summary,
		Partial:   partial,
	})

	turn.Reply = o.reply(ctx, turn, logger)
}

func (o *Orchestrator) reply(ctx context.Context, turn *Turn, logger *zap.Logger) string {
	fallback := func() string {
		turn.Fallback = true
		return respond.Fallback(turn.Bundle, turn.Plan.ToolsNeeded)
	}

	if turn.Bundle.Partial {
		progress.FromContext(ctx).Emit(progress.Warning, "deadline", "")
		logger.Warn("turn deadline reached, using fallback reply")
		return o.scrub(fallback())
	}

	progress.FromContext(ctx).Emit(progress.Generating, "response_generation", "")
	text, err := o.deps.Generator.Generate(ctx, turn.Bundle)
	if err != nil {
		logger.Warn("response generation failed, using fallback reply", zap.Error(err))
		return o.scrub(fallback())
	}
	text = respond.Finalize(text)
	if text == "" {
		logger.Warn("response generation returned nothing, using fallback reply")
		return o.scrub(fallback())
	}
	return o.scrub(text)
}

func (o *Orchestrator) scrub(text string) string {
	if o.redactor == nil {
		return text
	}
	return o.redactor.Redact(text)
}

// appendHistory stores the inbound message and the reply in one write. It
// runs after the turn deadline and survives cancellation of ctx.
func (o *Orchestrator) appendHistory(ctx context.Context, key conversation.Key, msg conversation.Message, reply string, logger *zap.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()

	out := msg.Reply(reply, o.cfg.AssistantID, o.now())
	if err := o.deps.History.Append(wctx, key, msg, out); err != nil {
		logger.Error("history append failed", zap.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, span trace.Span, turn *Turn, outcome string) {
	span.SetAttributes(
		attribute.String("turn.outcome", outcome),
		attribute.Int("turn.tools", len(turn.Plan.ToolsNeeded)),
		attribute.Float64("planner.confidence", turn.Plan.Confidence),
	)
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnDuration.Observe(turn.Duration.Seconds())
	if o.turns != nil {
		o.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if o.durations != nil {
		o.durations.Record(ctx, turn.Duration.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func idStrings(ids []tools.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
