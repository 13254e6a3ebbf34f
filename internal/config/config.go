// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // non-chat handlers
	SyncTimeout    time.Duration `yaml:"sync_timeout"`    // POST /sessions/{id}/chat
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // cache lifetime of finished request statuses
}

type LLMConfig struct {
	Provider        string        `yaml:"provider"` // ollama | gemini | noop
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	Temperature     float64       `yaml:"temperature"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent LLM calls
	ContextTokens   int           `yaml:"context_tokens"`   // history budget sent to the model
	HistoryMessages int           `yaml:"history_messages"`
}

type ChatConfig struct {
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	SubmitRatePerMinute int           `yaml:"submit_rate_per_minute"`
	RecoveryAfter       time.Duration `yaml:"recovery_after"`
	StaleGrace          time.Duration `yaml:"stale_grace"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	Retention           time.Duration `yaml:"retention"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Disabled  bool          `yaml:"disabled"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Chat     ChatConfig     `yaml:"chat"`
	Auth     AuthConfig     `yaml:"auth"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates it.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.SyncTimeout <= 0 {
		cfg.Server.SyncTimeout = 2 * time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.Provider == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama3:8b"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.RequestTimeout <= 0 {
		cfg.LLM.RequestTimeout = 2 * time.Hour
	}
	if cfg.LLM.ConcurrentLimit <= 0 {
		cfg.LLM.ConcurrentLimit = 2
	}
	if cfg.LLM.ContextTokens <= 0 {
		cfg.LLM.ContextTokens = 6000
	}
	if cfg.LLM.HistoryMessages <= 0 {
		cfg.LLM.HistoryMessages = 20
	}

	if cfg.Chat.Workers <= 0 {
		cfg.Chat.Workers = 4
	}
	if cfg.Chat.QueueSize <= 0 {
		cfg.Chat.QueueSize = cfg.Chat.Workers * 4
	}
	if cfg.Chat.SubmitRatePerMinute <= 0 {
		cfg.Chat.SubmitRatePerMinute = 20
	}
	if cfg.Chat.RecoveryAfter <= 0 {
		cfg.Chat.RecoveryAfter = time.Minute
	}
	if cfg.Chat.StaleGrace <= 0 {
		cfg.Chat.StaleGrace = 10 * time.Minute
	}
	if cfg.Chat.SweepInterval <= 0 {
		cfg.Chat.SweepInterval = 30 * time.Second
	}
	if cfg.Chat.Retention <= 0 {
		cfg.Chat.Retention = 7 * 24 * time.Hour
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	}
}

func (cfg *Config) validate() error {
	// Minimal validation
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	switch cfg.LLM.Provider {
	case "ollama", "noop":
	case "gemini":
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key is required for gemini")
		}
	default:
		return fmt.Errorf("llm.provider %q is not supported", cfg.LLM.Provider)
	}
	if !cfg.Auth.Disabled && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required unless auth.disabled is set")
	}
	if k := cfg.Security.EncryptionKey; k != "" && len(k) != 16 && len(k) != 24 && len(k) != 32 {
		return fmt.Errorf("security.encryption_key must be 16, 24 or 32 bytes; got %d", len(k))
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
