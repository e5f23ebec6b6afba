package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ledgerlens/ledgerlens/pkg/logging"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

// Config holds all LedgerLens configuration.
type Config struct {
	DBPath      string         `yaml:"db_path" toml:"db_path"`
	ContextFile string         `yaml:"context_file" toml:"context_file"`
	LLM         LLMConfig      `yaml:"llm" toml:"llm"`
	Cache       CacheConfig    `yaml:"cache" toml:"cache"`
	Search      SearchConfig   `yaml:"search" toml:"search"`
	Budget      BudgetConfig   `yaml:"budget" toml:"budget"`
	Log         logging.Config `yaml:"log" toml:"log"`
}

// LLMConfig defines the chat-completion provider and its model pair.
type LLMConfig struct {
	BaseURL       string        `yaml:"base_url" toml:"base_url"`
	APIKey        string        `yaml:"api_key" toml:"api_key"`
	PrimaryModel  string        `yaml:"primary_model" toml:"primary_model"`
	FallbackModel string        `yaml:"fallback_model" toml:"fallback_model"`
	MaxTokens     int           `yaml:"max_tokens" toml:"max_tokens"`
	Timeout       Duration `yaml:"timeout" toml:"timeout"`
	RetryDelay    Duration `yaml:"retry_delay" toml:"retry_delay"`
}

// Duration is a time.Duration written as "90s" or "24h" in YAML and TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats d as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Cache backends.
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Backend  string        `yaml:"backend" toml:"backend"`
	TTL      Duration `yaml:"ttl" toml:"ttl"`
	RedisURL string        `yaml:"redis_url" toml:"redis_url"`
}

// SearchConfig configures the web search used for company context.
type SearchConfig struct {
	BaseURL  string `yaml:"base_url" toml:"base_url"`
	APIKey   string `yaml:"api_key" toml:"api_key"`
	EngineID string `yaml:"engine_id" toml:"engine_id"`
}

// BudgetConfig controls token budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled" toml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies" toml:"policies"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DBPath:      "data/finance.db",
		ContextFile: "company_context.txt",
		LLM: LLMConfig{
			BaseURL:       "https://api.openai.com/v1",
			PrimaryModel:  "gpt-4",
			FallbackModel: "gpt-3.5-turbo",
			MaxTokens:     2000,
			Timeout:       Duration(60 * time.Second),
			RetryDelay:    Duration(time.Second),
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: CacheBackendSQLite,
			TTL:     Duration(24 * time.Hour),
		},
		Search: SearchConfig{
			BaseURL: "https://www.googleapis.com",
		},
		Log: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML or TOML config file and expands environment variables.
// A missing file is an error; use LoadOrDefault for optional files.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) applyEnv() {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if strings.TrimSpace(c.Search.APIKey) == "" {
		c.Search.APIKey = os.Getenv("GOOGLE_SEARCH_API_KEY")
	}
	if strings.TrimSpace(c.Search.EngineID) == "" {
		c.Search.EngineID = os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		errs = append(errs, errors.New("llm.api_key is not set (or OPENAI_API_KEY)"))
	}
	if strings.TrimSpace(c.LLM.PrimaryModel) == "" {
		errs = append(errs, errors.New("llm.primary_model is required"))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("llm.max_tokens must be positive"))
	}
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case CacheBackendSQLite:
		case CacheBackendRedis:
			if strings.TrimSpace(c.Cache.RedisURL) == "" {
				errs = append(errs, errors.New("cache.redis_url is required for the redis backend"))
			}
		default:
			errs = append(errs, fmt.Errorf("cache.backend: unknown %q", c.Cache.Backend))
		}
		if c.Cache.TTL <= 0 {
			errs = append(errs, errors.New("cache.ttl must be positive"))
		}
	}
	for i, p := range c.Budget.Policies {
		if p.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("budget.policies[%d]: max_tokens must be positive", i))
		}
		if p.Period != models.BudgetDaily && p.Period != models.BudgetMonthly {
			errs = append(errs, fmt.Errorf("budget.policies[%d]: unknown period %q", i, p.Period))
		}
	}
	return errors.Join(errs...)
}
