package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Telegram      TelegramConfig      `yaml:"telegram"`
	LLM           LLMConfig           `yaml:"llm"`
	Notion        NotionConfig        `yaml:"notion"`
	State         StateConfig         `yaml:"state"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Agent         AgentConfig         `yaml:"agent"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TelegramConfig identifies the bot and the single authorized chat.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Provider     string  `yaml:"provider"` // anthropic, openai
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	AnthropicKey string  `yaml:"anthropic_key"`
	OpenAIKey    string  `yaml:"openai_key"`
}

// NotionConfig points at the task database.
type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
	Version    string `yaml:"version"`
}

// StateConfig selects the persisted-state backend.
type StateConfig struct {
	Backend   string `yaml:"backend"` // file, redis, memory
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`
}

// ScheduleConfig holds the cron specs for the proactive jobs.
type ScheduleConfig struct {
	Timezone   string `yaml:"timezone"`
	DailySpec  string `yaml:"daily_spec"`
	HourlySpec string `yaml:"hourly_spec"`
}

// AgentConfig bounds the tool-calling loop.
type AgentConfig struct {
	MaxRounds           int `yaml:"max_rounds"`
	HistoryTurns        int `yaml:"history_turns"`
	ToolConcurrency     int `yaml:"tool_concurrency"`
	CompletionTimeoutMS int `yaml:"completion_timeout_ms"`
}

// AuditConfig locates the interaction log.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsAddr   string `yaml:"metrics_addr"`
	TraceExporter string `yaml:"trace_exporter"` // otlp, stdout, none
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	TraceService  string `yaml:"trace_service"`
}

// CompletionTimeout returns the per-call completion deadline.
func (a AgentConfig) CompletionTimeout() time.Duration {
	return time.Duration(a.CompletionTimeoutMS) * time.Millisecond
}

// LoadConfig loads configuration from a YAML file. An empty path yields a
// config built from environment variables and defaults alone.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.Telegram.ChatID == 0 {
		if id, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if cfg.LLM.AnthropicKey == "" {
		cfg.LLM.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.LLM.OpenAIKey == "" {
		cfg.LLM.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Notion.Token == "" {
		cfg.Notion.Token = os.Getenv("NOTION_TOKEN")
	}
	if cfg.Notion.DatabaseID == "" {
		cfg.Notion.DatabaseID = os.Getenv("NOTION_DATABASE_ID")
	}
	if cfg.State.RedisAddr == "" {
		cfg.State.RedisAddr = os.Getenv("REDIS_ADDR")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-5"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.Notion.Version == "" {
		cfg.Notion.Version = "2022-06-28"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "data/state.json"
	}
	if cfg.State.RedisKey == "" {
		cfg.State.RedisKey = "nudgebot:state"
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "Asia/Seoul"
	}
	if cfg.Schedule.DailySpec == "" {
		cfg.Schedule.DailySpec = "0 9 * * *"
	}
	if cfg.Schedule.HourlySpec == "" {
		cfg.Schedule.HourlySpec = "0 10-23 * * *"
	}
	if cfg.Agent.MaxRounds == 0 {
		cfg.Agent.MaxRounds = 5
	}
	if cfg.Agent.HistoryTurns == 0 {
		cfg.Agent.HistoryTurns = 8
	}
	if cfg.Agent.ToolConcurrency == 0 {
		cfg.Agent.ToolConcurrency = 3
	}
	if cfg.Agent.CompletionTimeoutMS == 0 {
		cfg.Agent.CompletionTimeoutMS = 30_000
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "logs/agent_log.jsonl"
	}
	if cfg.Observability.TraceExporter == "" {
		cfg.Observability.TraceExporter = "none"
	}
	if cfg.Observability.TraceService == "" {
		cfg.Observability.TraceService = "nudgebot"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required")
	}
	if c.Notion.Token == "" {
		return fmt.Errorf("notion.token is required")
	}
	if c.Notion.DatabaseID == "" {
		return fmt.Errorf("notion.database_id is required")
	}
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.AnthropicKey == "" {
			return fmt.Errorf("llm.anthropic_key is required for the anthropic provider")
		}
	case "openai":
		if c.LLM.OpenAIKey == "" {
			return fmt.Errorf("llm.openai_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}
	switch c.State.Backend {
	case "file", "memory":
	case "redis":
		if c.State.RedisAddr == "" {
			return fmt.Errorf("state.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown state backend: %s", c.State.Backend)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid schedule.timezone: %w", err)
	}
	return nil
}
