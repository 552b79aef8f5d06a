package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. It carries raw model output and tool
// payloads and is off in production.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if strings.EqualFold(level, "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// encodeLevel names TraceLevel "trace" instead of zap's "Level(-2)".
func encodeLevel(color bool) zapcore.LevelEncoder {
	base := zapcore.LowercaseLevelEncoder
	if color {
		base = zapcore.CapitalColorLevelEncoder
	}
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l == TraceLevel {
			if color {
				enc.AppendString("TRACE")
			} else {
				enc.AppendString("trace")
			}
			return
		}
		base(l, enc)
	}
}
