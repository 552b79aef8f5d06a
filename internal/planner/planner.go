package planner

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/memory"
	"github.com/fyrsmithlabs/askd/internal/reasoning"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
	"github.com/fyrsmithlabs/askd/internal/tools"
)

const instrumentationName = "github.com/fyrsmithlabs/askd/internal/planner"

const (
	// UnparseableAnalysis is the analysis of a plan built after the
	// reasoning service failed or answered with something unusable.
	UnparseableAnalysis = "Planning was unavailable for this message; answering from conversation context without tools."

	// DirectAnalysis is used when the model omits an analysis.
	DirectAnalysis = "No analysis provided; answering with the requested tools."
)

// Asker is the reasoning call the planner depends on.
type Asker interface {
	Ask(ctx context.Context, system, user string) (string, error)
}

// Catalog resolves tool names to registered IDs.
type Catalog interface {
	Resolve(name string) (tools.ID, bool)
}

// Planner builds execution plans. It never fails; see Plan.
type Planner struct {
	asker   Asker
	catalog Catalog
	system  func() string
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a planner. system supplies the current planning prompt.
func New(asker Asker, catalog Catalog, system func() string, tel *telemetry.Telemetry, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if system == nil {
		system = func() string { return "" }
	}
	return &Planner{
		asker:   asker,
		catalog: catalog,
		system:  system,
		logger:  logger.Named("planner"),
		tracer:  tel.Tracer(instrumentationName),
	}
}

// Plan asks the reasoning service for a plan. Any failure degrades to an
// empty plan with zero confidence and a fixed analysis.
func (p *Planner) Plan(ctx context.Context, msg conversation.Message, part memory.Partition, summary string) ExecutionPlan {
	ctx, span := p.tracer.Start(ctx, "planner.plan")
	defer span.End()

	reply, err := p.asker.Ask(ctx, p.system(), userPrompt(msg, part, summary))
	if err != nil {
		p.logger.Warn("planning call failed, using empty plan", zap.Error(err))
		span.SetAttributes(attribute.Bool("planner.fallback", true))
		return emptyPlan()
	}

	plan, err := p.parse(reply, msg.Text)
	if err != nil {
		p.logger.Warn("unparseable plan, using empty plan",
			zap.Error(err), zap.Int("reply_chars", len(reply)))
		span.SetAttributes(attribute.Bool("planner.fallback", true))
		return emptyPlan()
	}

	ids := make([]string, len(plan.ToolsNeeded))
	for i, id := range plan.ToolsNeeded {
		ids[i] = string(id)
	}
	span.SetAttributes(
		attribute.StringSlice("planner.tools", ids),
		attribute.Float64("planner.confidence", plan.Confidence),
	)
	p.logger.Debug("plan ready",
		zap.Strings("tools", ids),
		zap.Float64("confidence", plan.Confidence),
		zap.String("intent", plan.Intent))
	return plan
}

func emptyPlan() ExecutionPlan {
	return ExecutionPlan{
		Analysis:    UnparseableAnalysis,
		ToolsNeeded: []tools.ID{},
		SubQueries:  map[tools.ID][]string{},
		Confidence:  0,
	}
}

// parse validates the model's JSON into a plan over registered tools.
func (p *Planner) parse(reply, query string) (ExecutionPlan, error) {
	var raw rawPlan
	if err := reasoning.DecodeJSON(reply, &raw); err != nil {
		return ExecutionPlan{}, err
	}

	plan := ExecutionPlan{
		Analysis:         strings.TrimSpace(raw.Analysis),
		ToolsNeeded:      []tools.ID{},
		SubQueries:       map[tools.ID][]string{},
		Confidence:       clamp01(float64(raw.Confidence)),
		Intent:           strings.TrimSpace(raw.Context.Intent),
		ResponseApproach: strings.TrimSpace(raw.Context.ResponseApproach),
	}
	if plan.Analysis == "" {
		plan.Analysis = DirectAnalysis
	}

	for _, name := range raw.ToolsNeeded {
		id, ok := p.catalog.Resolve(name)
		if !ok {
			p.logger.Warn("dropping unknown tool from plan", zap.String("tool", name))
			continue
		}
		if plan.Needs(id) {
			continue
		}
		plan.ToolsNeeded = append(plan.ToolsNeeded, id)
	}

	queries := map[tools.ID][]string{}
	for name, qs := range raw.Queries {
		if id, ok := p.catalog.Resolve(name); ok {
			queries[id] = append(queries[id], qs...)
		}
	}
	if len(raw.VectorQueries) > 0 {
		if id, ok := p.catalog.Resolve(string(tools.Vector)); ok {
			queries[id] = append(queries[id], raw.VectorQueries...)
		}
	}

	for _, id := range plan.ToolsNeeded {
		subs := cleanQueries(queries[id])
		if len(subs) == 0 {
			subs = []string{query}
		}
		plan.SubQueries[id] = subs
	}
	return plan, nil
}

// cleanQueries trims, drops blanks and removes duplicates, keeping order.
func cleanQueries(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func userPrompt(msg conversation.Message, part memory.Partition, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current query: %q\n\n", msg.Text)

	b.WriteString("Message context:\n")
	author := msg.AuthorName
	if author == "" {
		author = msg.AuthorID
	}
	fmt.Fprintf(&b, "- author: %s\n", author)
	channel := msg.ChannelName
	if channel == "" {
		channel = msg.ChannelID
	}
	fmt.Fprintf(&b, "- channel: %s\n", channel)
	fmt.Fprintf(&b, "- direct message: %t\n", msg.IsDirect)
	if msg.ThreadID != "" {
		b.WriteString("- in thread: true\n")
	}

	b.WriteString("\nConversation summary:\n")
	if s := strings.TrimSpace(summary); s != "" {
		b.WriteString(s)
	} else {
		b.WriteString("(none)")
	}

	b.WriteString("\n\nRecent conversation:\n")
	if len(part.Live) > 0 {
		b.WriteString(memory.FormatLines(part.Live))
	} else {
		b.WriteString("(none)")
	}

	b.WriteString("\n\nCreate an execution plan to answer the current query.")
	return b.String()
}
