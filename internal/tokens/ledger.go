// Package tokens counts tokens for arbitrary text against a fixed encoding.
package tokens

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is used when neither the model nor the configured encoding resolves.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// Config selects the encoding.
type Config struct {
	// Model is resolved first through tiktoken's model table (e.g. "gpt-4").
	Model string
	// Encoding is used when Model is empty or unknown.
	Encoding string
}

// Ledger is a Counter backed by tiktoken. It holds no per-call state and is
// safe for concurrent use.
type Ledger struct {
	encoding string
	encode   func(string) []int
	logger   *zap.Logger
}

// NewLedger resolves the encoding. When no encoding can be loaded the ledger
// counts with the character heuristic for its whole lifetime.
func NewLedger(cfg Config, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tokens")

	name, enc, err := resolve(cfg)
	if err != nil {
		logger.Warn("token encoding unavailable, using character heuristic", zap.Error(err))
		return &Ledger{logger: logger}
	}

	return &Ledger{
		encoding: name,
		encode: func(text string) []int {
			return enc.Encode(text, nil, nil)
		},
		logger: logger,
	}
}

// NewLedgerWithEncoder builds a ledger around an arbitrary encode function.
// encode may panic; panics are counted as failures and fall back.
func NewLedgerWithEncoder(name string, encode func(string) []int, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{encoding: name, encode: encode, logger: logger.Named("tokens")}
}

func resolve(cfg Config) (string, *tiktoken.Tiktoken, error) {
	if cfg.Model != "" {
		if enc, err := tiktoken.EncodingForModel(cfg.Model); err == nil {
			name := tiktoken.MODEL_TO_ENCODING[cfg.Model]
			if name == "" {
				name = cfg.Model
			}
			return name, enc, nil
		}
	}

	var lastErr error
	for _, name := range []string{cfg.Encoding, DefaultEncoding} {
		if name == "" {
			continue
		}
		enc, err := tiktoken.GetEncoding(name)
		if err == nil {
			return name, enc, nil
		}
		lastErr = err
	}
	return "", nil, fmt.Errorf("load encoding: %w", lastErr)
}

// Count returns the number of tokens in text. Empty text is 0. If counting
// fails the result is the len(text)/4 heuristic; Count never fails.
func (l *Ledger) Count(text string) (n int) {
	if text == "" {
		return 0
	}
	if l == nil || l.encode == nil {
		return Estimate(text)
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("token count failed, using character heuristic",
				zap.Any("panic", r), zap.Int("chars", utf8.RuneCountInString(text)))
			n = Estimate(text)
		}
	}()

	return len(l.encode(text))
}

// CountAll sums Count over texts.
func (l *Ledger) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += l.Count(t)
	}
	return total
}

// Encoding returns the resolved encoding name, or "" in fallback mode.
func (l *Ledger) Encoding() string {
	return l.encoding
}

// Fallback reports whether the ledger has no encoder and always estimates.
func (l *Ledger) Fallback() bool {
	return l.encode == nil
}

// Estimate is the character heuristic: one token per four characters.
func Estimate(text string) int {
	return utf8.RuneCountInString(text) / 4
}
