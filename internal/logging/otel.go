package logging

import (
	"errors"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newCore tees the configured outputs. Each output is redacted on its own;
// sampling wraps the tee.
func newCore(cfg *Config, lp log.LoggerProvider) (zapcore.Core, error) {
	level, err := cfg.ZapLevel()
	if err != nil {
		return nil, err
	}
	red, err := newRedactor(cfg.Redaction)
	if err != nil {
		return nil, err
	}

	var cores []zapcore.Core
	if cfg.Output.Stdout {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(os.Stdout), level))
	}
	if cfg.Output.Stderr {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(os.Stderr), level))
	}
	if cfg.Output.OTEL && lp != nil {
		cores = append(cores, otelzap.NewCore("github.com/fyrsmithlabs/askd", otelzap.WithLoggerProvider(lp)))
	}
	if len(cores) == 0 {
		return nil, errors.New("no log output available")
	}

	for i, c := range cores {
		cores[i] = red.wrap(c)
	}
	return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
}
