// Package aggregator merges everything a turn produced into a ContextBundle
// for response generation. Build makes no external calls.
package aggregator

import (
	"time"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/memory"
	"github.com/fyrsmithlabs/askd/internal/planner"
	"github.com/fyrsmithlabs/askd/internal/tools"
)

// Metadata describes where the message came from.
type Metadata struct {
	AuthorID        string    `json:"author_id"`
	AuthorName      string    `json:"author_name,omitempty"`
	ChannelID       string    `json:"channel_id"`
	ChannelName     string    `json:"channel_name,omitempty"`
	ThreadID        string    `json:"thread_id,omitempty"`
	IsDirect        bool      `json:"is_direct"`
	IsMention       bool      `json:"is_mention"`
	ConversationKey string    `json:"conversation_key"`
	Timestamp       time.Time `json:"timestamp"`
}

// Analysis is the planner's reading of the query.
type Analysis struct {
	Text             string  `json:"text"`
	Intent           string  `json:"intent,omitempty"`
	ResponseApproach string  `json:"response_approach,omitempty"`
	Confidence       float64 `json:"confidence"`
}

// Bundle is the complete context handed to the response generator.
type Bundle struct {
	Query               string                       `json:"query"`
	Metadata            Metadata                     `json:"metadata"`
	LiveHistory         []memory.TokenizedMessage    `json:"live_history"`
	ConversationSummary string                       `json:"conversation_summary,omitempty"`
	PlannerAnalysis     Analysis                     `json:"planner_analysis"`
	ToolResults         map[tools.ID][]tools.Result `json:"tool_results"`
	Partial             bool                         `json:"partial"`
}

// Input is everything Build merges.
type Input struct {
	Message   conversation.Message
	Key       conversation.Key
	Plan      planner.ExecutionPlan
	Results   map[tools.ID][]tools.Result
	Partition memory.Partition
	Summary   string
	Partial   bool
}

// Succeeded returns the tools with at least one successful result, in plan order.
func (b Bundle) Succeeded(order []tools.ID) []tools.ID {
	var out []tools.ID
	for _, id := range order {
		for _, r := range b.ToolResults[id] {
			if r.Success {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Escalated returns the tools with at least one escalated result, in plan order.
func (b Bundle) Escalated(order []tools.ID) []tools.ID {
	var out []tools.ID
	for _, id := range order {
		for _, r := range b.ToolResults[id] {
			if r.Escalated {
				out = append(out, id)
				break
			}
		}
	}
	return out
}
