package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

var findingsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "askd",
		Subsystem: "redact",
		Name:      "findings_total",
		Help:      "Secrets redacted from tool payloads and replies",
	},
	[]string{"rule"},
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Secret string
}

// Redactor replaces detected secrets with [REDACTED:rule:prefix] markers.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
	logger   *zap.Logger
}

// New builds a redactor from the default gitleaks rules plus allowlist.
func New(allowlist *Allowlist, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}
	if allowlist != nil && (len(allowlist.Regexes) > 0 || len(allowlist.StopWords) > 0) {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}

	return &Redactor{detector: detector, logger: logger.Named("redact")}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{
		Description: "askd allowlist",
		StopWords:   allowlist.StopWords,
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}

// Scan returns the secrets found in text.
func (r *Redactor) Scan(text string) []Finding {
	if r == nil || text == "" {
		return nil
	}

	r.mu.Lock()
	found := r.detector.DetectString(text)
	r.mu.Unlock()

	out := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Secret: f.Secret})
	}
	return out
}

// Redact returns text with every detected secret replaced by a marker.
// A nil Redactor returns text unchanged.
func (r *Redactor) Redact(text string) string {
	findings := r.Scan(text)
	if len(findings) == 0 {
		return text
	}

	// Longest first so a secret containing another is replaced whole.
	sort.Slice(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})
	for _, f := range findings {
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Secret, 4))
		text = strings.ReplaceAll(text, f.Secret, marker)
		findingsTotal.WithLabelValues(f.RuleID).Inc()
	}

	r.logger.Debug("redacted secrets", zap.Int("count", len(findings)))
	return text
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
