// Package escalation notifies humans about tool calls that exhausted their
// retry budget.
package escalation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultSubject is the NATS subject escalations are published on.
const DefaultSubject = "askd.escalations"

// Escalation describes one escalated tool call.
type Escalation struct {
	TurnID          string         `json:"turn_id,omitempty"`
	ConversationKey string         `json:"conversation_key,omitempty"`
	ToolID          string         `json:"tool_id"`
	Attempts        int            `json:"attempts"`
	Error           string         `json:"error"`
	Arguments       map[string]any `json:"arguments,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Notifier delivers escalations.
type Notifier interface {
	Notify(ctx context.Context, e Escalation) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Escalation) error

func (f NotifierFunc) Notify(ctx context.Context, e Escalation) error { return f(ctx, e) }

// LogNotifier records escalations in the log only.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("escalation")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, e Escalation) error {
	n.logger.Warn("tool call escalated for human follow-up",
		zap.String("turn.id", e.TurnID),
		zap.String("conversation.key", e.ConversationKey),
		zap.String("tool", e.ToolID),
		zap.Int("attempts", e.Attempts),
		zap.String("error", e.Error))
	return nil
}

// Multi fans an escalation out to every notifier and joins their errors.
func Multi(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, e Escalation) error {
		var errs []error
		for _, n := range notifiers {
			if n == nil {
				continue
			}
			if err := n.Notify(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
