package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"google.golang.org/genai"
)

// Provider completes a single system+user exchange.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		return NewGeminiProvider(ctx, cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// GeminiProvider calls the Gemini API.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiProvider creates a Gemini client. BaseURL overrides the API host.
func NewGeminiProvider(ctx context.Context, cfg ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Complete implements Provider.
func (p *GeminiProvider) Complete(ctx context.Context, system, user string) (string, error) {
	temp := p.temperature
	gc := &genai.GenerateContentConfig{Temperature: &temp}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if p.maxTokens > 0 {
		gc.MaxOutputTokens = p.maxTokens
	}

	res, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}, gc)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return res.Text(), nil
}

// LangchainProvider adapts a langchaingo model.
type LangchainProvider struct {
	name        string
	llm         llms.Model
	messages    func(system, user string) []llms.MessageContent
	temperature float64
	maxTokens   int
}

// NewLangchainProvider wraps an existing langchaingo model.
func NewLangchainProvider(name string, llm llms.Model, cfg ProviderConfig) *LangchainProvider {
	return &LangchainProvider{
		name:        name,
		llm:         llm,
		messages:    chatMessages,
		temperature: float64(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}
}

// NewOpenAIProvider targets any OpenAI-compatible chat endpoint.
func NewOpenAIProvider(cfg ProviderConfig) (*LangchainProvider, error) {
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: create client: %w", err)
	}
	return NewLangchainProvider("openai", llm, cfg), nil
}

// NewAnthropicProvider targets the Anthropic text completions API.
func NewAnthropicProvider(cfg ProviderConfig) (*LangchainProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	if cfg.BaseURL != "" {
		return nil, fmt.Errorf("anthropic: %w: base_url", ErrUnsupportedOption)
	}
	opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, anthropic.WithModel(cfg.Model))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create client: %w", err)
	}
	p := NewLangchainProvider("anthropic", llm, cfg)
	p.messages = humanTurnPrompt
	return p, nil
}

// chatMessages sends system and user as separate chat messages.
func chatMessages(system, user string) []llms.MessageContent {
	var msgs []llms.MessageContent
	if system != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}
	return append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, user))
}

// humanTurnPrompt renders one text-completions prompt. The Anthropic client
// sends only the first part of the first message.
func humanTurnPrompt(system, user string) []llms.MessageContent {
	var b strings.Builder
	b.WriteString("\n\nHuman: ")
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	b.WriteString(user)
	b.WriteString("\n\nAssistant:")
	return []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, b.String())}
}

// Name implements Provider.
func (p *LangchainProvider) Name() string { return p.name }

// Complete implements Provider.
func (p *LangchainProvider) Complete(ctx context.Context, system, user string) (string, error) {
	msgs := p.messages(system, user)

	opts := []llms.CallOption{llms.WithTemperature(p.temperature)}
	if p.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.maxTokens))
	}

	resp, err := p.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("%s: generate: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}
