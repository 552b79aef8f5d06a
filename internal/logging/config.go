package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the "logging" section of the askd config file.
type Config struct {
	Level  string       `koanf:"level"`
	Format string       `koanf:"format"` // json or console
	Output OutputConfig `koanf:"output"`

	Sampling  SamplingConfig  `koanf:"sampling"`
	Caller    CallerConfig    `koanf:"caller"`
	Redaction RedactionConfig `koanf:"redaction"`

	// Stacktrace is the lowest level that records a stack; empty disables.
	Stacktrace string `koanf:"stacktrace"`
	// Fields are attached to every entry.
	Fields map[string]string `koanf:"fields"`
}

type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig thins entries below Error: per message and tick, the first
// Initial pass, then every Thereafter-th.
type SamplingConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Tick       time.Duration `koanf:"tick"`
	Initial    int           `koanf:"initial"`
	Thereafter int           `koanf:"thereafter"`
}

type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// RedactionConfig lists field names and value patterns that never reach an
// output.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Caller: CallerConfig{Enabled: true},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"api_key", "authorization", "password", "secret",
				"token", "bearer", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`\bxox[abpr]-[A-Za-z0-9-]+`,
			},
		},
		Stacktrace: "error",
		Fields:     map[string]string{"service": "askd"},
	}
}

// ZapLevel parses Level.
func (c *Config) ZapLevel() (zapcore.Level, error) {
	return LevelFromString(c.Level)
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := LevelFromString(c.Level); err != nil {
		errs = append(errs, fmt.Errorf("level %q: %w", c.Level, err))
	}
	if c.Stacktrace != "" {
		if _, err := LevelFromString(c.Stacktrace); err != nil {
			errs = append(errs, fmt.Errorf("stacktrace level %q: %w", c.Stacktrace, err))
		}
	}
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be json or console, got %q", c.Format))
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		errs = append(errs, errors.New("no output enabled"))
	}
	if c.Sampling.Enabled && c.Sampling.Tick <= 0 {
		errs = append(errs, errors.New("sampling.tick must be positive"))
	}
	if c.Caller.Skip < 0 {
		errs = append(errs, fmt.Errorf("caller.skip must not be negative, got %d", c.Caller.Skip))
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				errs = append(errs, fmt.Errorf("redaction pattern longer than %d chars", maxPatternLen))
			} else if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("redaction pattern %q: %w", p, err))
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			errs = append(errs, fmt.Errorf("field %q must have a non-empty key and value", k))
		}
	}
	return errors.Join(errs...)
}
