package aggregator

import (
	"slices"
	"strings"

	"github.com/fyrsmithlabs/askd/internal/memory"
	"github.com/fyrsmithlabs/askd/internal/tools"
)

// WithheldAnalysis replaces an analysis that was nothing but structured output.
const WithheldAnalysis = "Planner analysis contained only structured output and was omitted."

// Build merges in into a Bundle. Result slices and JSON-like payloads are
// copied, so the bundle shares no mutable state with the caller.
func Build(in Input) Bundle {
	m := in.Message
	analysis := Sanitize(in.Plan.Analysis)
	if analysis == "" {
		analysis = WithheldAnalysis
	}

	return Bundle{
		Query: m.Text,
		Metadata: Metadata{
			AuthorID:        m.AuthorID,
			AuthorName:      m.AuthorName,
			ChannelID:       m.ChannelID,
			ChannelName:     m.ChannelName,
			ThreadID:        m.ThreadID,
			IsDirect:        m.IsDirect,
			IsMention:       m.IsMention,
			ConversationKey: in.Key.String(),
			Timestamp:       m.Timestamp,
		},
		LiveHistory:         copyHistory(in.Partition.Live),
		ConversationSummary: Sanitize(in.Summary),
		PlannerAnalysis: Analysis{
			Text:             analysis,
			Intent:           in.Plan.Intent,
			ResponseApproach: in.Plan.ResponseApproach,
			Confidence:       in.Plan.Confidence,
		},
		ToolResults: copyResults(in.Plan.ToolsNeeded, in.Results),
		Partial:     in.Partial,
	}
}

func copyHistory(live []memory.TokenizedMessage) []memory.TokenizedMessage {
	out := make([]memory.TokenizedMessage, len(live))
	copy(out, live)
	return out
}

// copyResults keys the output by needed. Tools missing from results get an
// empty list; tools not in needed are dropped.
func copyResults(needed []tools.ID, results map[tools.ID][]tools.Result) map[tools.ID][]tools.Result {
	out := make(map[tools.ID][]tools.Result, len(needed))
	for _, id := range needed {
		src := results[id]
		dst := make([]tools.Result, len(src))
		for i, r := range src {
			r.Payload = copyPayload(r.Payload)
			dst[i] = r
		}
		out[id] = dst
	}
	return out
}

func copyPayload(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyPayload(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyPayload(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = copyPayload(e).(map[string]any)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// Sanitize strips fenced code blocks and embedded JSON objects or arrays
// from free text and normalizes blank lines.
func Sanitize(text string) string {
	text = fencedBlock.ReplaceAllString(text, "")
	text = stripJSON(text)

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if strings.TrimSpace(l) == "" {
			if blank || len(kept) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
