package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	turnIDKey
	conversationKeyKey
)

const maxIDLen = 128

var (
	idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// Conversation keys embed channel ids and gateway timestamps.
	conversationKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

// ContextFields returns the trace and correlation fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	for _, id := range []struct {
		key   ctxKey
		field string
	}{
		{requestIDKey, "request.id"},
		{turnIDKey, "turn.id"},
		{conversationKeyKey, "conversation.key"},
	} {
		if v := valueOf(ctx, id.key); v != "" {
			fields = append(fields, zap.String(id.field, v))
		}
	}
	return fields
}

func checkID(id string, pattern *regexp.Regexp) error {
	switch {
	case id == "":
		return fmt.Errorf("empty id")
	case !utf8.ValidString(id):
		return fmt.Errorf("id is not valid UTF-8")
	case len(id) > maxIDLen:
		return fmt.Errorf("id longer than %d bytes", maxIDLen)
	case !pattern.MatchString(id):
		return fmt.Errorf("id %q has invalid characters", id)
	}
	return nil
}

// withValue stores id under key. It panics on an invalid id; callers holding
// untrusted input check it with ValidRequestID or ValidConversationKey first.
func withValue(ctx context.Context, key ctxKey, id string, pattern *regexp.Regexp) context.Context {
	if err := checkID(id, pattern); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, key, id)
}

func valueOf(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// ValidRequestID reports whether WithRequestID accepts id.
func ValidRequestID(id string) bool { return checkID(id, idPattern) == nil }

// ValidConversationKey reports whether WithConversationKey accepts key.
func ValidConversationKey(key string) bool { return checkID(key, conversationKeyPattern) == nil }

func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id, idPattern)
}

func RequestIDFromContext(ctx context.Context) string { return valueOf(ctx, requestIDKey) }

func WithTurnID(ctx context.Context, id string) context.Context {
	return withValue(ctx, turnIDKey, id, idPattern)
}

func TurnIDFromContext(ctx context.Context) string { return valueOf(ctx, turnIDKey) }

func WithConversationKey(ctx context.Context, key string) context.Context {
	return withValue(ctx, conversationKeyKey, key, conversationKeyPattern)
}

func ConversationKeyFromContext(ctx context.Context) string { return valueOf(ctx, conversationKeyKey) }
