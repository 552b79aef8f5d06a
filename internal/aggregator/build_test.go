package aggregator

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/memory"
	"github.com/fyrsmithlabs/askd/internal/planner"
	"github.com/fyrsmithlabs/askd/internal/tools"
)

func sampleInput() Input {
	ts := time.Date(2025, 6, 27, 10, 0, 0, 0, time.UTC)
	msg := conversation.Message{
		ID: "1751018400.000100", Text: "What changed in the VPN policy?",
		AuthorID: "U1", AuthorName: "dana", ChannelID: "C1", ChannelName: "it-help",
		Timestamp: ts, IsMention: true,
	}
	return Input{
		Message: msg,
		Key:     "conv:C1:1751018400.000100",
		Plan: planner.ExecutionPlan{
			Analysis:    "User asks about the VPN policy update.",
			ToolsNeeded: []tools.ID{tools.Vector, tools.Web, tools.Atlassian},
			SubQueries: map[tools.ID][]string{
				tools.Vector: {"vpn policy"}, tools.Web: {"vpn policy news"},
			},
			Confidence: 0.8,
			Intent:     "policy_lookup",
		},
		Results: map[tools.ID][]tools.Result{
			tools.Vector: {{
				ToolID: tools.Vector, Success: true, AttemptCount: 1,
				Payload: []map[string]any{{"id": "doc-1", "content": "MFA is now required", "score": 0.91}},
			}},
			tools.Web: {{ToolID: tools.Web, Error: "attempt 1: timeout", AttemptCount: 5, Escalated: true}},
		},
		Partition: memory.Partition{Live: []memory.TokenizedMessage{
			{Speaker: memory.SpeakerUser, Text: "hi", TokenCount: 3, FormattedText: "User: hi"},
		}},
		Summary: "Dana has been asking about remote access.",
	}
}

func TestBuild_Idempotent(t *testing.T) {
	in := sampleInput()

	first := Build(in)
	second := Build(in)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("Build not idempotent (-first +second):\n%s", diff)
	}
}

func TestBuild_PreservesEveryPlannedKey(t *testing.T) {
	b := Build(sampleInput())

	require.Len(t, b.ToolResults, 3)
	assert.Len(t, b.ToolResults[tools.Vector], 1)
	assert.Len(t, b.ToolResults[tools.Web], 1)
	assert.NotNil(t, b.ToolResults[tools.Atlassian])
	assert.Empty(t, b.ToolResults[tools.Atlassian], "planned but never run maps to an empty list")
}

func TestBuild_DropsUnplannedResults(t *testing.T) {
	in := sampleInput()
	in.Plan.ToolsNeeded = []tools.ID{tools.Vector}

	b := Build(in)
	assert.Len(t, b.ToolResults, 1)
	assert.NotContains(t, b.ToolResults, tools.Web)
}

func TestBuild_DoesNotAliasInputs(t *testing.T) {
	in := sampleInput()
	b := Build(in)

	in.Results[tools.Vector][0].Success = false
	in.Results[tools.Vector][0].Payload.([]map[string]any)[0]["content"] = "tampered"
	in.Partition.Live[0].Text = "tampered"

	assert.True(t, b.ToolResults[tools.Vector][0].Success)
	assert.Equal(t, "MFA is now required", b.ToolResults[tools.Vector][0].Payload.([]map[string]any)[0]["content"])
	assert.Equal(t, "hi", b.LiveHistory[0].Text)
}

func TestBuild_Metadata(t *testing.T) {
	b := Build(sampleInput())

	assert.Equal(t, "What changed in the VPN policy?", b.Query)
	assert.Equal(t, Metadata{
		AuthorID: "U1", AuthorName: "dana", ChannelID: "C1", ChannelName: "it-help",
		IsMention: true, ConversationKey: "conv:C1:1751018400.000100",
		Timestamp: time.Date(2025, 6, 27, 10, 0, 0, 0, time.UTC),
	}, b.Metadata)
	assert.Equal(t, Analysis{Text: "User asks about the VPN policy update.", Intent: "policy_lookup", Confidence: 0.8}, b.PlannerAnalysis)
	assert.Equal(t, []tools.ID{tools.Vector}, b.Succeeded(sampleInput().Plan.ToolsNeeded))
	assert.Equal(t, []tools.ID{tools.Web}, b.Escalated(sampleInput().Plan.ToolsNeeded))
}

func TestBuild_AnalysisNeverEmpty(t *testing.T) {
	in := sampleInput()
	in.Plan.Analysis = `{"tools_needed": ["vector"]}`

	b := Build(in)
	assert.Equal(t, WithheldAnalysis, b.PlannerAnalysis.Text)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain prose", "The user wants dates.", "The user wants dates."},
		{"fenced block", "Plan:\n```json\n{\"a\":1}\n```\nSearch docs.", "Plan:\n\nSearch docs."},
		{"inline object", `Use {"tool": "vector"} for this.`, "Use  for this."},
		{"array of objects", `Results [{"id":1},{"id":2}] found`, "Results  found"},
		{"citation kept", "Policy changed [1] in May.", "Policy changed [1] in May."},
		{"braces in prose kept", "Replace {name} with yours.", "Replace {name} with yours."},
		{"only json", `{"analysis": "x"}`, ""},
		{"collapses blank runs", "a\n\n\n\nb", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}
