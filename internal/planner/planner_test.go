package planner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/memory"
	"github.com/fyrsmithlabs/askd/internal/tools"
)

type fixedAsker struct {
	reply  string
	err    error
	system string
	user   string
}

func (a *fixedAsker) Ask(_ context.Context, system, user string) (string, error) {
	a.system, a.user = system, user
	return a.reply, a.err
}

// catalog registers only vector and web.
type catalog struct{}

func (catalog) Resolve(name string) (tools.ID, bool) {
	id, ok := tools.Normalize(name)
	if !ok || id == tools.Atlassian {
		return "", false
	}
	return id, true
}

var msg = conversation.Message{
	ID:         "1700000000.000100",
	Text:       "When does the VPN rollout finish?",
	AuthorID:   "U1",
	AuthorName: "dana",
	ChannelID:  "C1",
	Timestamp:  time.Unix(1700000000, 0),
}

func newPlanner(t *testing.T, a Asker) *Planner {
	t.Helper()
	return New(a, catalog{}, func() string { return "plan please" }, nil, zaptest.NewLogger(t))
}

func TestPlan_FailSoft(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"prose", "Sure, I'd search the knowledge base for that.", nil},
		{"truncated json", `{"analysis": "vpn", "tools_needed": ["vector"`, nil},
		{"wrong types", `{"tools_needed": "vector"}`, nil},
		{"reasoning error", "", errors.New("quota exceeded")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := newPlanner(t, &fixedAsker{reply: tt.reply, err: tt.err}).
				Plan(context.Background(), msg, memory.Partition{}, "")

			assert.Empty(t, plan.ToolsNeeded)
			assert.NotNil(t, plan.ToolsNeeded)
			assert.Empty(t, plan.SubQueries)
			assert.Zero(t, plan.Confidence)
			assert.Equal(t, UnparseableAnalysis, plan.Analysis)
		})
	}
}

func TestPlan_ParsesFencedJSON(t *testing.T) {
	reply := "```json\n" + `{
		"analysis": "User wants the VPN rollout end date.",
		"tools_needed": ["vector_search", "perplexity_search", "vector", "jira"],
		"queries": {"web": ["vpn rollout schedule", "  ", "vpn rollout schedule"]},
		"vector_queries": ["vpn rollout timeline"],
		"confidence": "1.7",
		"context": {"intent": "status_check", "response_approach": "cite dates"}
	}` + "\n```"

	plan := newPlanner(t, &fixedAsker{reply: reply}).Plan(context.Background(), msg, memory.Partition{}, "")

	assert.Equal(t, "User wants the VPN rollout end date.", plan.Analysis)
	assert.Equal(t, []tools.ID{tools.Vector, tools.Web}, plan.ToolsNeeded, "aliases normalized, duplicates and unregistered tools dropped")
	assert.Equal(t, map[tools.ID][]string{
		tools.Vector: {"vpn rollout timeline"},
		tools.Web:    {"vpn rollout schedule"},
	}, plan.SubQueries)
	assert.Equal(t, 1.0, plan.Confidence)
	assert.Equal(t, "status_check", plan.Intent)
	assert.Equal(t, "cite dates", plan.ResponseApproach)
}

func TestPlan_DefaultsSubQueryToRawQuery(t *testing.T) {
	reply := `{"analysis": "search", "tools_needed": ["web"], "confidence": 0.6}`

	plan := newPlanner(t, &fixedAsker{reply: reply}).Plan(context.Background(), msg, memory.Partition{}, "")

	assert.Equal(t, map[tools.ID][]string{tools.Web: {msg.Text}}, plan.SubQueries)
	assert.InDelta(t, 0.6, plan.Confidence, 1e-9)
}

func TestPlan_NoToolsNeeded(t *testing.T) {
	reply := `{"tools_needed": [], "confidence": -0.2}`

	plan := newPlanner(t, &fixedAsker{reply: reply}).Plan(context.Background(), msg, memory.Partition{}, "")

	assert.True(t, plan.Empty())
	assert.Equal(t, DirectAnalysis, plan.Analysis)
	assert.Zero(t, plan.Confidence)
}

func TestPlan_PromptCarriesContext(t *testing.T) {
	asker := &fixedAsker{reply: `{"tools_needed": []}`}
	part := memory.Partition{Live: []memory.TokenizedMessage{
		{Speaker: memory.SpeakerUser, Text: "is the vpn down?", FormattedText: "User: is the vpn down?"},
		{Speaker: memory.SpeakerBot, Text: "It was restarted.", FormattedText: "Bot: It was restarted."},
	}}

	newPlanner(t, asker).Plan(context.Background(), msg, part, "Earlier we discussed VPN outages.")

	assert.Equal(t, "plan please", asker.system)
	assert.Contains(t, asker.user, `"When does the VPN rollout finish?"`)
	assert.Contains(t, asker.user, "User: is the vpn down?\nBot: It was restarted.")
	assert.Contains(t, asker.user, "Earlier we discussed VPN outages.")
	assert.Contains(t, asker.user, "author: dana")
}

func TestLooseFloat(t *testing.T) {
	var raw rawPlan
	require.NoError(t, json.Unmarshal([]byte(`{"confidence": null}`), &raw))
	assert.Zero(t, float64(raw.Confidence))

	require.NoError(t, json.Unmarshal([]byte(`{"confidence": "0.25"}`), &raw))
	assert.Equal(t, 0.25, float64(raw.Confidence))

	assert.Error(t, json.Unmarshal([]byte(`{"confidence": "high"}`), &raw))
}
