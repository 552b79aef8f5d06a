// Package config provides configuration loading for askd.
//
// Values come from built-in defaults, then an optional YAML file, then
// ASKD_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

// Config holds the complete askd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Turn       TurnConfig       `koanf:"turn"`
	Memory     MemoryConfig     `koanf:"memory"`
	React      ReactConfig      `koanf:"react"`
	Executor   ExecutorConfig   `koanf:"executor"`
	Progress   ProgressConfig   `koanf:"progress"`
	Reasoning  ReasoningConfig  `koanf:"reasoning"`
	Tools      ToolsConfig      `koanf:"tools"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Storage    StorageConfig    `koanf:"storage"`
	Escalation EscalationConfig `koanf:"escalation"`
	Redaction  RedactionConfig  `koanf:"redaction"`
	Prompts    PromptsConfig    `koanf:"prompts"`
	Logging    logging.Config   `koanf:"logging"`
	Telemetry  telemetry.Config `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TurnConfig bounds a single process_turn call.
type TurnConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// MemoryConfig controls the token-bounded conversation memory.
type MemoryConfig struct {
	BudgetTokens   int    `koanf:"budget_tokens"`
	PreserveRecent int    `koanf:"preserve_recent"`
	HistoryLimit   int    `koanf:"history_limit"`
	MinMessages    int    `koanf:"min_messages"`
	Encoding       string `koanf:"encoding"`
	Model          string `koanf:"model"`
}

// ReactConfig controls the adaptive retry loop.
type ReactConfig struct {
	MaxAttempts int `koanf:"max_attempts"`
}

// ExecutorConfig controls plan execution.
type ExecutorConfig struct {
	// MaxParallel limits concurrent tool categories. 0 means unlimited.
	MaxParallel int `koanf:"max_parallel"`
}

// ProgressConfig controls user-facing progress notifications.
type ProgressConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// ReasoningConfig selects and configures the reasoning provider.
type ReasoningConfig struct {
	Provider          string        `koanf:"provider"`
	Model             string        `koanf:"model"`
	PlannerModel      string        `koanf:"planner_model"`
	APIKey            Secret        `koanf:"api_key"`
	BaseURL           string        `koanf:"base_url"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	CallTimeout       time.Duration `koanf:"call_timeout"`
}

// ToolsConfig configures the tool backends.
type ToolsConfig struct {
	CallTimeout time.Duration   `koanf:"call_timeout"`
	Vector      VectorConfig    `koanf:"vector"`
	Web         WebConfig       `koanf:"web"`
	Atlassian   AtlassianConfig `koanf:"atlassian"`
}

// VectorConfig configures similarity search.
type VectorConfig struct {
	Enabled    bool         `koanf:"enabled"`
	Provider   string       `koanf:"provider"`
	Path       string       `koanf:"path"`
	Compress   bool         `koanf:"compress"`
	Collection string       `koanf:"collection"`
	TopK       int          `koanf:"top_k"`
	Qdrant     QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// WebConfig configures the web-search provider.
type WebConfig struct {
	Enabled           bool    `koanf:"enabled"`
	BaseURL           string  `koanf:"base_url"`
	Model             string  `koanf:"model"`
	APIKey            Secret  `koanf:"api_key"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	MaxTokens         int     `koanf:"max_tokens"`
}

// AtlassianConfig configures the issue-tracker/wiki MCP endpoint.
type AtlassianConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	Token    Secret `koanf:"token"`
	Limit    int    `koanf:"limit"`
}

// EmbeddingsConfig configures the embedder used by the vector store.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// StorageConfig selects the history/summary backend.
type StorageConfig struct {
	Backend       string        `koanf:"backend"`
	Path          string        `koanf:"path"`
	TTL           time.Duration `koanf:"ttl"`
	HistoryWindow int           `koanf:"history_window"`
}

// EscalationConfig configures where escalated tool failures are published.
type EscalationConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// RedactionConfig controls secret scrubbing of tool payloads and replies.
type RedactionConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Allowlist string `koanf:"allowlist"`
}

// PromptsConfig points at an optional prompt template file.
type PromptsConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: 10 * time.Second,
		},
		Turn: TurnConfig{Timeout: 60 * time.Second},
		Memory: MemoryConfig{
			BudgetTokens:   3000,
			PreserveRecent: 2,
			HistoryLimit:   50,
			MinMessages:    3,
			Encoding:       "cl100k_base",
			Model:          "gpt-4",
		},
		React:    ReactConfig{MaxAttempts: 5},
		Progress: ProgressConfig{Debounce: 500 * time.Millisecond},
		Reasoning: ReasoningConfig{
			Provider:          "gemini",
			Model:             "gemini-2.5-flash",
			PlannerModel:      "gemini-2.5-flash",
			RequestsPerSecond: 5,
			CallTimeout:       30 * time.Second,
		},
		Tools: ToolsConfig{
			CallTimeout: 20 * time.Second,
			Vector: VectorConfig{
				Enabled:    true,
				Provider:   "chromem",
				Path:       "~/.local/share/askd/vectorstore",
				Compress:   true,
				Collection: "knowledge",
				TopK:       5,
				Qdrant:     QdrantConfig{Host: "localhost", Port: 6334},
			},
			Web: WebConfig{
				BaseURL:           "https://api.perplexity.ai",
				Model:             "llama-3.1-sonar-small-128k-online",
				RequestsPerSecond: 1,
				MaxTokens:         1000,
			},
			Atlassian: AtlassianConfig{Limit: 10},
		},
		Embeddings: EmbeddingsConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "text-embedding-3-small",
		},
		Storage: StorageConfig{
			Backend:       "memory",
			Path:          "~/.local/share/askd/askd.db",
			TTL:           24 * time.Hour,
			HistoryWindow: 50,
		},
		Escalation: EscalationConfig{Subject: "askd.escalations"},
		Redaction:  RedactionConfig{Enabled: true},
		Logging:    *logging.NewDefaultConfig(),
		Telemetry:  *telemetry.NewDefaultConfig(),
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Turn.Timeout <= 0 {
		errs = append(errs, errors.New("turn.timeout must be positive"))
	}
	if c.Memory.BudgetTokens <= 0 {
		errs = append(errs, fmt.Errorf("memory.budget_tokens must be positive, got %d", c.Memory.BudgetTokens))
	}
	if c.Memory.PreserveRecent < 0 {
		errs = append(errs, fmt.Errorf("memory.preserve_recent must be >= 0, got %d", c.Memory.PreserveRecent))
	}
	if c.Memory.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("memory.history_limit must be positive, got %d", c.Memory.HistoryLimit))
	}
	if c.React.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("react.max_attempts must be >= 1, got %d", c.React.MaxAttempts))
	}
	if c.Executor.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("executor.max_parallel must be >= 0, got %d", c.Executor.MaxParallel))
	}
	if c.Progress.Debounce < 0 {
		errs = append(errs, errors.New("progress.debounce must be >= 0"))
	}

	switch c.Reasoning.Provider {
	case "gemini", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("reasoning.provider must be gemini, openai or anthropic, got %q", c.Reasoning.Provider))
	}
	if c.Reasoning.CallTimeout <= 0 {
		errs = append(errs, errors.New("reasoning.call_timeout must be positive"))
	}
	if c.Tools.CallTimeout <= 0 {
		errs = append(errs, errors.New("tools.call_timeout must be positive"))
	}

	if c.Tools.Vector.Enabled {
		switch c.Tools.Vector.Provider {
		case "chromem", "qdrant":
		default:
			errs = append(errs, fmt.Errorf("tools.vector.provider must be chromem or qdrant, got %q", c.Tools.Vector.Provider))
		}
		if c.Tools.Vector.TopK <= 0 {
			errs = append(errs, errors.New("tools.vector.top_k must be positive"))
		}
		switch c.Embeddings.Provider {
		case "openai", "fastembed":
		default:
			errs = append(errs, fmt.Errorf("embeddings.provider must be openai or fastembed, got %q", c.Embeddings.Provider))
		}
	}
	if c.Tools.Web.Enabled && c.Tools.Web.BaseURL == "" {
		errs = append(errs, errors.New("tools.web.base_url is required when web search is enabled"))
	}
	if c.Tools.Atlassian.Enabled && c.Tools.Atlassian.Endpoint == "" {
		errs = append(errs, errors.New("tools.atlassian.endpoint is required when atlassian is enabled"))
	}

	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be memory or sqlite, got %q", c.Storage.Backend))
	}
	if c.Storage.HistoryWindow <= 0 {
		errs = append(errs, errors.New("storage.history_window must be positive"))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}
