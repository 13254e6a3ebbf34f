package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
database:
  url: postgres://u:p@localhost:5432/learnmate
redis:
  url: localhost:6379
auth:
  jwt_secret: secret
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port default: got %d", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("llm defaults: %+v", cfg.LLM)
	}
	if cfg.LLM.Model != "llama3:8b" {
		t.Errorf("model default: %s", cfg.LLM.Model)
	}
	if cfg.Server.SyncTimeout != 2*time.Hour || cfg.LLM.RequestTimeout != 2*time.Hour {
		t.Errorf("timeouts: sync=%s llm=%s", cfg.Server.SyncTimeout, cfg.LLM.RequestTimeout)
	}
	if cfg.Chat.QueueSize != cfg.Chat.Workers*4 {
		t.Errorf("queue size should derive from workers, got %d", cfg.Chat.QueueSize)
	}
	if cfg.Redis.TTL != time.Hour {
		t.Errorf("redis ttl default: %s", cfg.Redis.TTL)
	}
	if cfg.Runtime.Dev {
		t.Error("dev should be false")
	}
}

func TestParseDurationsAndOverrides(t *testing.T) {
	y := minimalYAML + `
llm:
  provider: Noop
  request_timeout: 90s
  concurrent_limit: 1
chat:
  workers: 2
  sweep_interval: 5s
`
	cfg, err := Parse([]byte(y), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Provider != "noop" {
		t.Errorf("provider should be normalised, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.RequestTimeout != 90*time.Second || cfg.LLM.ConcurrentLimit != 1 {
		t.Errorf("llm overrides: %+v", cfg.LLM)
	}
	if cfg.Chat.Workers != 2 || cfg.Chat.QueueSize != 8 || cfg.Chat.SweepInterval != 5*time.Second {
		t.Errorf("chat overrides: %+v", cfg.Chat)
	}
	if !cfg.Runtime.Dev {
		t.Error("dev flag lost")
	}
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"database.url":   "redis:\n  url: x\nauth:\n  jwt_secret: s\n",
		"redis.url":      "database:\n  url: x\nauth:\n  jwt_secret: s\n",
		"jwt_secret":     "database:\n  url: x\nredis:\n  url: y\n",
		"not supported":  minimalYAML + "llm:\n  provider: bard\n",
		"api_key":        minimalYAML + "llm:\n  provider: gemini\n",
		"encryption_key": minimalYAML + "security:\n  encryption_key: short\n",
	}
	for want, y := range cases {
		t.Run(want, func(t *testing.T) {
			_, err := Parse([]byte(y), false)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), want) {
				t.Errorf("error %q should mention %q", err, want)
			}
		})
	}
}

func TestParseAuthDisabledNeedsNoSecret(t *testing.T) {
	y := "database:\n  url: x\nredis:\n  url: y\nauth:\n  disabled: true\n"
	if _, err := Parse([]byte(y), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(p, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.URL == "" {
		t.Error("database url not loaded")
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml"), false); err == nil {
		t.Error("expected error for missing file")
	}
}
