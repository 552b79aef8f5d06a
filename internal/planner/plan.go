// Package planner turns a user message and its conversation context into an
// ExecutionPlan: which tools to call and with which sub-queries.
package planner

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"
	"strconv"

	"github.com/fyrsmithlabs/askd/internal/tools"
)

// ExecutionPlan is the planner's decision for one turn.
type ExecutionPlan struct {
	Analysis         string                `json:"analysis"`
	ToolsNeeded      []tools.ID            `json:"tools_needed"`
	SubQueries       map[tools.ID][]string `json:"sub_queries"`
	Confidence       float64               `json:"confidence"`
	Intent           string                `json:"intent,omitempty"`
	ResponseApproach string                `json:"response_approach,omitempty"`
}

// Needs reports whether the plan requests id.
func (p ExecutionPlan) Needs(id tools.ID) bool {
	return slices.Contains(p.ToolsNeeded, id)
}

// Empty reports whether no tools are requested.
func (p ExecutionPlan) Empty() bool { return len(p.ToolsNeeded) == 0 }

// rawPlan is the JSON shape requested from the reasoning service.
type rawPlan struct {
	Analysis      string              `json:"analysis"`
	ToolsNeeded   []string            `json:"tools_needed"`
	Queries       map[string][]string `json:"queries"`
	VectorQueries []string            `json:"vector_queries"`
	Confidence    looseFloat          `json:"confidence"`
	Context       struct {
		Intent           string `json:"intent"`
		ResponseApproach string `json:"response_approach"`
	} `json:"context"`
}

// looseFloat accepts 0.8, "0.8" and null.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 1 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = looseFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = looseFloat(v)
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
