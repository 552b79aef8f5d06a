// Package respond turns a ContextBundle into the user-facing reply.
package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/aggregator"
	"github.com/fyrsmithlabs/askd/internal/tools"
)

const (
	// MaxReplyChars is the longest reply sent unmodified.
	MaxReplyChars = 4000
	// TruncatedReplyChars is how much of an over-long reply is kept.
	TruncatedReplyChars = 3950
	// TruncationMarker is appended to truncated replies.
	TruncationMarker = "...\n\n*[Response truncated for readability]*"

	maxFindingChars = 1500
)

// Generator writes a reply for a bundle.
type Generator interface {
	Generate(ctx context.Context, b aggregator.Bundle) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, b aggregator.Bundle) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, b aggregator.Bundle) (string, error) {
	return f(ctx, b)
}

// Asker is the reasoning call used to write replies.
type Asker interface {
	Ask(ctx context.Context, system, user string) (string, error)
}

// ReasoningGenerator writes replies with the reasoning service.
type ReasoningGenerator struct {
	asker  Asker
	system func() string
	logger *zap.Logger
}

// NewReasoningGenerator creates a generator. system supplies the current
// response prompt.
func NewReasoningGenerator(asker Asker, system func() string, logger *zap.Logger) *ReasoningGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReasoningGenerator{asker: asker, system: system, logger: logger.Named("respond")}
}

// Generate implements Generator.
func (g *ReasoningGenerator) Generate(ctx context.Context, b aggregator.Bundle) (string, error) {
	prompt := Prompt(b)
	g.logger.Debug("generating reply", zap.Int("prompt_chars", len(prompt)))
	return g.asker.Ask(ctx, g.system(), prompt)
}

// Prompt renders b as the user prompt for response generation.
func Prompt(b aggregator.Bundle) string {
	var p strings.Builder
	fmt.Fprintf(&p, "USER QUERY: %s\n\n", b.Query)

	if b.ConversationSummary != "" {
		p.WriteString("CONVERSATION SUMMARY:\n")
		p.WriteString(b.ConversationSummary)
		p.WriteString("\n\n")
	}

	if len(b.LiveHistory) > 0 {
		p.WriteString("RECENT MESSAGE HISTORY:\n")
		for _, m := range b.LiveHistory {
			fmt.Fprintf(&p, "  %s\n", m.FormattedText)
		}
		p.WriteString("\n")
	}

	p.WriteString("PLANNER ANALYSIS:\n")
	p.WriteString(b.PlannerAnalysis.Text)
	if b.PlannerAnalysis.ResponseApproach != "" {
		fmt.Fprintf(&p, "\nSuggested approach: %s", b.PlannerAnalysis.ResponseApproach)
	}
	p.WriteString("\n\n")

	if len(b.ToolResults) > 0 {
		p.WriteString("FINDINGS:\n")
		for _, id := range sortedIDs(b.ToolResults) {
			fmt.Fprintf(&p, "[%s]\n", id)
			results := b.ToolResults[id]
			if len(results) == 0 {
				p.WriteString("  (no results)\n")
			}
			for _, r := range results {
				switch {
				case r.Success:
					fmt.Fprintf(&p, "  %s\n", finding(r.Payload))
				case r.Escalated:
					p.WriteString("  (unavailable; flagged for human follow-up)\n")
				default:
					p.WriteString("  (failed)\n")
				}
			}
		}
		p.WriteString("\n")
	}

	if b.Partial {
		p.WriteString("NOTE: time ran out before every source answered; say so briefly.\n\n")
	}

	p.WriteString("TASK:\nAnswer the user query using the findings and conversation above.")
	return p.String()
}

func finding(payload any) string {
	var s string
	switch v := payload.(type) {
	case nil:
		return "(empty)"
	case string:
		s = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprint(v)
		} else {
			s = string(data)
		}
	}
	return truncateRunes(strings.TrimSpace(s), maxFindingChars, "...")
}

// Finalize trims a generated reply and truncates it when it is too long.
func Finalize(reply string) string {
	reply = strings.TrimSpace(reply)
	if utf8.RuneCountInString(reply) <= MaxReplyChars {
		return reply
	}
	return truncateRunes(reply, TruncatedReplyChars, TruncationMarker)
}

func truncateRunes(s string, n int, marker string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + marker
		}
		i++
	}
	return s
}

// Fallback builds a deterministic reply from b without any external call.
// It names the sources that answered and those needing follow-up but never
// repeats their payloads.
func Fallback(b aggregator.Bundle, order []tools.ID) string {
	if len(order) == 0 {
		order = sortedIDs(b.ToolResults)
	}
	ok := b.Succeeded(order)
	escalated := b.Escalated(order)

	var p strings.Builder
	if b.Partial {
		p.WriteString("I ran out of time before I could put together a full answer.")
	} else {
		p.WriteString("I couldn't put together a full answer right now.")
	}

	if len(ok) > 0 {
		fmt.Fprintf(&p, " I did get results from %s.", sourceList(ok))
	}
	if len(escalated) > 0 {
		fmt.Fprintf(&p, " %s didn't respond, so I've flagged that for follow-up.", capitalize(sourceList(escalated)))
	}
	if len(ok) == 0 && len(escalated) == 0 {
		p.WriteString(" I didn't need to consult any sources for this one.")
	}
	p.WriteString(" Please try asking again in a moment.")
	return p.String()
}

var sourceNames = map[tools.ID]string{
	tools.Vector:    "the knowledge base",
	tools.Web:       "web search",
	tools.Atlassian: "Jira/Confluence",
}

func sourceList(ids []tools.ID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		if n, ok := sourceNames[id]; ok {
			names[i] = n
		} else {
			names[i] = string(id)
		}
	}
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return strings.ToUpper(string(r)) + s[size:]
}

func sortedIDs(m map[tools.ID][]tools.Result) []tools.ID {
	ids := make([]tools.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
