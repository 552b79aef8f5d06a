package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix scopes the environment variables askd reads.
	EnvPrefix = "ASKD_"
)

// Load loads configuration from the default path, then the environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides with environment variables.
//
// Precedence (highest to lowest):
//  1. ASKD_-prefixed environment variables
//  2. YAML config file (default ~/.config/askd/config.yaml, skipped when absent)
//  3. Default()
//
// The first underscore after the prefix separates section from field:
//
//	ASKD_MEMORY_BUDGET_TOKENS -> memory.budget_tokens
//	ASKD_REASONING_API_KEY    -> reasoning.api_key
//
// Nested sections use a double underscore:
//
//	ASKD_TOOLS__WEB__API_KEY  -> tools.web.api_key
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "askd", "config.yaml")
	}

	content, err := readConfigFile(configPath)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal over the defaults so absent keys keep their default values.
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envKey maps ASKD_SECTION_FIELD_NAME to section.field_name and
// ASKD_A__B__C_D to a.b.c_d.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	if strings.Contains(lower, "__") {
		return strings.ReplaceAll(lower, "__", ".")
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile reads a config file after checking its size through the open descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func (c *Config) expandPaths() {
	c.Tools.Vector.Path = expandHome(c.Tools.Vector.Path)
	c.Storage.Path = expandHome(c.Storage.Path)
	c.Embeddings.CacheDir = expandHome(c.Embeddings.CacheDir)
	c.Prompts.Path = expandHome(c.Prompts.Path)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
