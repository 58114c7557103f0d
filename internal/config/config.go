package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Ferry configuration
type Config struct {
	// Telegram
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// AI provider
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Session store
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Streaming
	Stream StreamConfig `json:"stream" mapstructure:"stream"`

	// Task execution
	Task TaskConfig `json:"task" mapstructure:"task"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken  string  `json:"bot_token" mapstructure:"bot_token"`
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"` // empty means open
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Provider     string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model        string  `json:"model" mapstructure:"model"`
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	TTLMS         int64 `json:"ttl_ms" mapstructure:"ttl_ms"`
	Max           int   `json:"max" mapstructure:"max"`
	SweepInterval int64 `json:"sweep_interval_ms" mapstructure:"sweep_interval_ms"`
}

// TTL returns the session time-to-live as a duration.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLMS) * time.Millisecond
}

// Sweep returns the eviction cadence as a duration.
func (c SessionConfig) Sweep() time.Duration {
	return time.Duration(c.SweepInterval) * time.Millisecond
}

// StreamConfig holds streaming response configuration
type StreamConfig struct {
	ThrottleMS       int64 `json:"throttle_ms" mapstructure:"throttle_ms"`
	TypingIntervalMS int64 `json:"typing_interval_ms" mapstructure:"typing_interval_ms"`
	MaxMessageLen    int   `json:"max_message_len" mapstructure:"max_message_len"`
}

// Throttle returns the edit throttle as a duration.
func (c StreamConfig) Throttle() time.Duration {
	return time.Duration(c.ThrottleMS) * time.Millisecond
}

// TypingInterval returns the liveness cadence as a duration.
func (c StreamConfig) TypingInterval() time.Duration {
	return time.Duration(c.TypingIntervalMS) * time.Millisecond
}

// TaskConfig holds task execution configuration
type TaskConfig struct {
	TimeoutMS int64 `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// Timeout returns the task timeout as a duration.
func (c TaskConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	Port    int  `json:"port" mapstructure:"port"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Session: SessionConfig{
			TTLMS:         30 * 60 * 1000,
			Max:           100,
			SweepInterval: 60 * 1000,
		},
		Stream: StreamConfig{
			ThrottleMS:       1500,
			TypingIntervalMS: 4500,
			MaxMessageLen:    4000,
		},
		Task: TaskConfig{
			TimeoutMS: 5 * 60 * 1000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}

	if c.AI.Provider != "anthropic" && c.AI.Provider != "openai" {
		return fmt.Errorf("invalid AI provider %s (must be: anthropic, openai)", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return fmt.Errorf("AI model is required")
	}
	if c.AI.APIKey == "" {
		return fmt.Errorf("AI api_key is required")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("AI temperature must be between 0 and 2")
	}

	if c.Session.Max <= 0 {
		return fmt.Errorf("session max must be positive")
	}
	if c.Session.TTLMS <= 0 {
		return fmt.Errorf("session ttl_ms must be positive")
	}

	if c.Stream.ThrottleMS <= 0 {
		return fmt.Errorf("stream throttle_ms must be positive")
	}
	if c.Stream.TypingIntervalMS <= 0 {
		return fmt.Errorf("stream typing_interval_ms must be positive")
	}
	if c.Stream.MaxMessageLen <= 0 {
		return fmt.Errorf("stream max_message_len must be positive")
	}

	if c.Task.TimeoutMS <= 0 {
		return fmt.Errorf("task timeout_ms must be positive")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port %d", c.Metrics.Port)
	}

	return nil
}
