package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
telegram:
  token: "123:abc"
  chat_id: 42
notion:
  token: secret
  database_id: db-1
llm:
  anthropic_key: sk-test
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("default provider = %q, want anthropic", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "claude-sonnet-4-5" {
		t.Errorf("default model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.MaxTokens != 1024 {
		t.Errorf("default max_tokens = %d, want 1024", cfg.LLM.MaxTokens)
	}
	if cfg.Agent.MaxRounds != 5 {
		t.Errorf("default max_rounds = %d, want 5", cfg.Agent.MaxRounds)
	}
	if cfg.Agent.HistoryTurns != 8 {
		t.Errorf("default history_turns = %d, want 8", cfg.Agent.HistoryTurns)
	}
	if cfg.Agent.ToolConcurrency != 3 {
		t.Errorf("default tool_concurrency = %d, want 3", cfg.Agent.ToolConcurrency)
	}
	if got := cfg.Agent.CompletionTimeout().Seconds(); got != 30 {
		t.Errorf("default completion timeout = %vs, want 30s", got)
	}
	if cfg.Schedule.Timezone != "Asia/Seoul" {
		t.Errorf("default timezone = %q", cfg.Schedule.Timezone)
	}
	if cfg.State.Backend != "file" {
		t.Errorf("default state backend = %q", cfg.State.Backend)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestLoadConfigEnvFallback(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "77")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("NOTION_TOKEN", "env-notion")
	t.Setenv("NOTION_DATABASE_ID", "env-db")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Errorf("token = %q, want env-token", cfg.Telegram.Token)
	}
	if cfg.Telegram.ChatID != 77 {
		t.Errorf("chat id = %d, want 77", cfg.Telegram.ChatID)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadConfig() error = nil, want read failure")
	}
}

func TestValidateErrors(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig(writeConfigFile(t, `
telegram: {token: "t", chat_id: 1}
notion: {token: "n", database_id: "d"}
llm: {anthropic_key: "k"}
`))
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"missing chat id", func(c *Config) { c.Telegram.ChatID = 0 }, "telegram.chat_id"},
		{"missing notion token", func(c *Config) { c.Notion.Token = "" }, "notion.token"},
		{"missing database", func(c *Config) { c.Notion.DatabaseID = "" }, "notion.database_id"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bard" }, "unknown llm provider"},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai" }, "llm.openai_key"},
		{"redis without addr", func(c *Config) { c.State.Backend = "redis" }, "state.redis_addr"},
		{"unknown backend", func(c *Config) { c.State.Backend = "sqlite" }, "unknown state backend"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}
