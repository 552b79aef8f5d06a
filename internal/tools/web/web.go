// Package web exposes Perplexity's online models as the web-search tool backend.
//
// Perplexity speaks the OpenAI chat-completions protocol, so requests go
// through langchaingo's OpenAI client pointed at the Perplexity base URL.
// Source URLs arrive in a top-level "citations" field the client does not
// surface; a response-reading transport captures them per request.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/askd/internal/tools"
)

const (
	DefaultBaseURL     = "https://api.perplexity.ai"
	DefaultModel       = "llama-3.1-sonar-small-128k-online"
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.2

	// contextTemperature is used when the caller supplies extra context,
	// which asks for a more focused answer.
	contextTemperature = 0.1
	contextMaxTokens   = 1200

	systemPrompt = "Be precise and concise. Provide factual information with clear source attribution."
)

// ErrEmptyAnswer is returned when the provider replies with no content.
var ErrEmptyAnswer = errors.New("web search returned an empty answer")

// Config configures the backend.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
	// RequestsPerSecond <= 0 disables rate limiting.
	RequestsPerSecond float64
	// HTTPClient overrides the transport's base client.
	HTTPClient *http.Client
}

// Backend answers {query, context?} with {answer, citations?}.
type Backend struct {
	llm       llms.Model
	model     string
	maxTokens int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// New creates a Perplexity-backed web search backend.
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("web search: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	client := &http.Client{
		Transport: &citationTransport{base: transportOf(base)},
		Timeout:   base.Timeout,
	}

	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(client),
	)
	if err != nil {
		return nil, fmt.Errorf("creating web search client: %w", err)
	}

	b := &Backend{
		llm:       llm,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("web"),
	}
	if cfg.RequestsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return b, nil
}

func (b *Backend) ID() tools.ID { return tools.Web }

func (b *Backend) Arguments(query string) map[string]any {
	return map[string]any{"query": query}
}

func (b *Backend) Call(ctx context.Context, args map[string]any) (any, error) {
	query, err := tools.QueryArgument(args)
	if err != nil {
		return nil, err
	}

	temperature, maxTokens := DefaultTemperature, b.maxTokens
	if extra, ok := args["context"].(string); ok && strings.TrimSpace(extra) != "" {
		query = fmt.Sprintf("Context: %s\n\nQuery: %s", extra, query)
		temperature, maxTokens = contextTemperature, max(maxTokens, contextMaxTokens)
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("web search rate limit: %w", err)
		}
	}

	ctx, citations := withCitations(ctx)
	resp, err := b.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
			llms.TextParts(schema.ChatMessageTypeHuman, query),
		},
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
		llms.WithTopP(0.9),
	)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, ErrEmptyAnswer
	}

	answer := strings.TrimSpace(resp.Choices[0].Content)
	payload := map[string]any{"answer": answer}
	if urls := citations.list(); len(urls) > 0 {
		payload["citations"] = urls
	}

	b.logger.Debug("web search completed",
		zap.Int("answer_chars", len(answer)),
		zap.Int("citations", len(citations.list())))
	return payload, nil
}

var _ tools.Backend = (*Backend)(nil)
