// File path: internal/embedding/config.go
package embedding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config carries the embedding backend selection plus the retry and memo
// cache policy shared by all backends.
type Config struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url"`

	Timeout       time.Duration `json:"-"`
	TimeoutString string        `json:"timeout"`

	BatchSize  int `json:"batch_size"`
	MaxRetries int `json:"max_retries"`

	RetryDelay       time.Duration `json:"-"`
	RetryDelayString string        `json:"retry_delay"`

	CacheTTL       time.Duration `json:"-"`
	CacheTTLString string        `json:"cache_ttl"`
	CacheSize      int           `json:"cache_size"`
}

func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.Provider) != "" {
		result.Provider = strings.TrimSpace(override.Provider)
	}
	if strings.TrimSpace(override.Model) != "" {
		result.Model = strings.TrimSpace(override.Model)
	}
	if strings.TrimSpace(override.APIKey) != "" {
		result.APIKey = override.APIKey
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		result.BaseURL = strings.TrimSpace(override.BaseURL)
	}
	if override.Timeout > 0 {
		result.Timeout = override.Timeout
	}
	if strings.TrimSpace(override.TimeoutString) != "" {
		result.TimeoutString = strings.TrimSpace(override.TimeoutString)
	}
	if override.BatchSize > 0 {
		result.BatchSize = override.BatchSize
	}
	if override.MaxRetries > 0 {
		result.MaxRetries = override.MaxRetries
	}
	if override.RetryDelay > 0 {
		result.RetryDelay = override.RetryDelay
	}
	if strings.TrimSpace(override.RetryDelayString) != "" {
		result.RetryDelayString = strings.TrimSpace(override.RetryDelayString)
	}
	if override.CacheTTL > 0 {
		result.CacheTTL = override.CacheTTL
	}
	if strings.TrimSpace(override.CacheTTLString) != "" {
		result.CacheTTLString = strings.TrimSpace(override.CacheTTLString)
	}
	if override.CacheSize > 0 {
		result.CacheSize = override.CacheSize
	}
	return result
}

// LoadConfig resolves configuration from an optional JSON file merged with
// environment overrides.
func LoadConfig() (Config, error) {
	cfg := Config{}
	if path := strings.TrimSpace(os.Getenv("EMBEDDING_CONFIG_FILE")); path != "" {
		fileCfg, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = cfg.Merge(fileCfg)
	}
	envCfg, err := loadConfigEnv()
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.Merge(envCfg)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.APIKey) == "" {
		c.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if strings.TrimSpace(c.Provider) == "" {
		if c.APIKey != "" {
			c.Provider = ProviderOpenAI
		} else {
			c.Provider = ProviderLocal
		}
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Timeout <= 0 {
		if c.TimeoutString != "" {
			if parsed, err := time.ParseDuration(c.TimeoutString); err == nil {
				c.Timeout = parsed
			}
		}
		if c.Timeout <= 0 {
			c.Timeout = 15 * time.Second
		}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		if c.RetryDelayString != "" {
			if parsed, err := time.ParseDuration(c.RetryDelayString); err == nil {
				c.RetryDelay = parsed
			}
		}
		if c.RetryDelay <= 0 {
			c.RetryDelay = time.Second
		}
	}
	if c.CacheTTL <= 0 {
		if c.CacheTTLString != "" {
			if parsed, err := time.ParseDuration(c.CacheTTLString); err == nil {
				c.CacheTTL = parsed
			}
		}
		if c.CacheTTL <= 0 {
			c.CacheTTL = time.Hour
		}
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 10000
	}
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read embedding config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse embedding config: %w", err)
	}
	return cfg, nil
}

func loadConfigEnv() (Config, error) {
	cfg := Config{}
	if provider := strings.TrimSpace(os.Getenv("EMBEDDING_PROVIDER")); provider != "" {
		cfg.Provider = provider
	}
	if model := strings.TrimSpace(os.Getenv("EMBEDDING_MODEL")); model != "" {
		cfg.Model = model
	}
	if key := strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")); key != "" {
		cfg.APIKey = key
	}
	if baseURL := strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL")); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout := strings.TrimSpace(os.Getenv("EMBEDDING_TIMEOUT")); timeout != "" {
		cfg.TimeoutString = timeout
		if parsed, err := time.ParseDuration(timeout); err == nil {
			cfg.Timeout = parsed
		}
	}
	if batch := strings.TrimSpace(os.Getenv("EMBEDDING_BATCH_SIZE")); batch != "" {
		value, err := strconv.Atoi(batch)
		if err != nil {
			return Config{}, fmt.Errorf("parse EMBEDDING_BATCH_SIZE: %w", err)
		}
		if value > 0 {
			cfg.BatchSize = value
		}
	}
	if retries := strings.TrimSpace(os.Getenv("EMBEDDING_MAX_RETRIES")); retries != "" {
		value, err := strconv.Atoi(retries)
		if err != nil {
			return Config{}, fmt.Errorf("parse EMBEDDING_MAX_RETRIES: %w", err)
		}
		if value > 0 {
			cfg.MaxRetries = value
		}
	}
	if delay := strings.TrimSpace(os.Getenv("EMBEDDING_RETRY_DELAY")); delay != "" {
		cfg.RetryDelayString = delay
		if parsed, err := time.ParseDuration(delay); err == nil {
			cfg.RetryDelay = parsed
		}
	}
	if ttl := strings.TrimSpace(os.Getenv("EMBEDDING_CACHE_TTL")); ttl != "" {
		cfg.CacheTTLString = ttl
		if parsed, err := time.ParseDuration(ttl); err == nil {
			cfg.CacheTTL = parsed
		}
	}
	if size := strings.TrimSpace(os.Getenv("EMBEDDING_CACHE_SIZE")); size != "" {
		value, err := strconv.Atoi(size)
		if err != nil {
			return Config{}, fmt.Errorf("parse EMBEDDING_CACHE_SIZE: %w", err)
		}
		if value > 0 {
			cfg.CacheSize = value
		}
	}
	return cfg, nil
}
