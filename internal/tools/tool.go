package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ID identifies a tool category.
type ID string

const (
	Vector    ID = "vector"
	Web       ID = "web"
	Atlassian ID = "atlassian"
)

var aliases = map[string]ID{
	"vector":            Vector,
	"vector_search":     Vector,
	"knowledge_base":    Vector,
	"web":               Web,
	"web_search":        Web,
	"perplexity":        Web,
	"perplexity_search": Web,
	"atlassian":         Atlassian,
	"atlassian_search":  Atlassian,
	"jira":              Atlassian,
	"confluence":        Atlassian,
}

// Normalize maps a tool name, including legacy aliases, to its ID.
func Normalize(name string) (ID, bool) {
	id, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// Action is one planned invocation.
type Action struct {
	ToolID    ID             `json:"tool_id"`
	Arguments map[string]any `json:"arguments"`
}

// Failure classifies why a call did not succeed.
type Failure string

const (
	FailureNone        Failure = ""
	FailureUnknownTool Failure = "unknown_tool"
	FailureBackend     Failure = "backend"
	FailureTimeout     Failure = "timeout"
	FailureCanceled    Failure = "canceled"
	FailurePanic       Failure = "panic"
)

// Retryable reports whether a retry with different arguments could succeed.
func (f Failure) Retryable() bool {
	switch f {
	case FailureUnknownTool, FailureCanceled:
		return false
	default:
		return true
	}
}

// Result is the terminal outcome of a tool call. Once returned it is not modified.
type Result struct {
	ToolID       ID            `json:"tool_id"`
	Success      bool          `json:"success"`
	Payload      any           `json:"payload,omitempty"`
	Error        string        `json:"error,omitempty"`
	Failure      Failure       `json:"failure,omitempty"`
	AttemptCount int           `json:"attempt_count"`
	Escalated    bool          `json:"escalated"`
	Duration     time.Duration `json:"duration"`
}

// Backend is one knowledge source.
type Backend interface {
	ID() ID
	// Arguments builds call arguments for a natural-language sub-query.
	Arguments(query string) map[string]any
	Call(ctx context.Context, args map[string]any) (any, error)
}

// QueryArgument extracts the "query" argument as a non-empty string.
func QueryArgument(args map[string]any) (string, error) {
	v, ok := args["query"]
	if !ok {
		return "", ErrMissingQuery
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: query must be a string, got %T", ErrInvalidArgument, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", ErrMissingQuery
	}
	return s, nil
}

// IntArgument reads an integer argument, accepting the float64 that JSON
// decoding produces. def is returned when the key is absent.
func IntArgument(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidArgument, key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidArgument, key, v)
	}
}

// CloneArguments returns a shallow copy of args.
func CloneArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
