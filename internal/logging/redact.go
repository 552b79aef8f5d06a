package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	redactedKey     = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
	maxPatternLen   = 200
)

// Redacted logs only the length of a sensitive value.
func Redacted(key, val string) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", len(val)))
}

// redactor rewrites fields whose key is sensitive or whose string value
// matches a secret pattern. A nil redactor is a no-op.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Fields))}
	for _, k := range cfg.Fields {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) wrap(core zapcore.Core) zapcore.Core {
	if r == nil {
		return core
	}
	return &redactCore{Core: core, r: r}
}

func (r *redactor) field(f zapcore.Field) (zapcore.Field, bool) {
	if _, ok := r.keys[strings.ToLower(f.Key)]; ok {
		return zap.String(f.Key, redactedKey), true
	}
	var val string
	switch f.Type {
	case zapcore.StringType:
		val = f.String
	case zapcore.ByteStringType:
		b, _ := f.Interface.([]byte)
		val = string(b)
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			val = err.Error()
		}
	default:
		return f, false
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return zap.String(f.Key, redactedPattern), true
		}
	}
	return f, false
}

// scrub returns fields with sensitive entries replaced. The input slice is
// never modified.
func (r *redactor) scrub(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		g, changed := r.field(f)
		if !changed {
			if out != nil {
				out = append(out, f)
			}
			continue
		}
		if out == nil {
			out = make([]zapcore.Field, i, len(fields))
			copy(out, fields[:i])
		}
		out = append(out, g)
	}
	if out == nil {
		return fields
	}
	return out
}

type redactCore struct {
	zapcore.Core
	r *redactor
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(c.r.scrub(fields)), r: c.r}
}

func (c *redactCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, c.r.scrub(fields))
}
