package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Telegram.BotToken = "123:abc"
	cfg.AI.APIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.NotEmpty(t, cfg.AI.Model)
	assert.Equal(t, 100, cfg.Session.Max)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Positive(t, cfg.Stream.ThrottleMS)
	assert.Positive(t, cfg.Stream.MaxMessageLen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing bot token",
			mutate:  func(c *Config) { c.Telegram.BotToken = "" },
			wantErr: "bot token",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.AI.APIKey = "" },
			wantErr: "api_key",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.AI.Provider = "gemini" },
			wantErr: "invalid AI provider",
		},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.AI.Model = "" },
			wantErr: "model",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.AI.Temperature = 3.5 },
			wantErr: "temperature",
		},
		{
			name:    "zero session bound",
			mutate:  func(c *Config) { c.Session.Max = 0 },
			wantErr: "session max",
		},
		{
			name:    "zero ttl",
			mutate:  func(c *Config) { c.Session.TTLMS = 0 },
			wantErr: "ttl_ms",
		},
		{
			name:    "zero throttle",
			mutate:  func(c *Config) { c.Stream.ThrottleMS = 0 },
			wantErr: "throttle_ms",
		},
		{
			name:    "zero typing interval",
			mutate:  func(c *Config) { c.Stream.TypingIntervalMS = 0 },
			wantErr: "typing_interval_ms",
		},
		{
			name:    "negative typing interval",
			mutate:  func(c *Config) { c.Stream.TypingIntervalMS = -100 },
			wantErr: "typing_interval_ms",
		},
		{
			name:    "zero task timeout",
			mutate:  func(c *Config) { c.Task.TimeoutMS = 0 },
			wantErr: "timeout_ms",
		},
		{
			name: "bad metrics port",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 70000
			},
			wantErr: "metrics port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.TTLMS = 1500
	cfg.Session.SweepInterval = 250
	cfg.Stream.ThrottleMS = 100
	cfg.Stream.TypingIntervalMS = 4500
	cfg.Task.TimeoutMS = 60000

	assert.Equal(t, 1500*time.Millisecond, cfg.Session.TTL())
	assert.Equal(t, 250*time.Millisecond, cfg.Session.Sweep())
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.Throttle())
	assert.Equal(t, 4500*time.Millisecond, cfg.Stream.TypingInterval())
	assert.Equal(t, time.Minute, cfg.Task.Timeout())
}

func TestConfigStringRedactsNothingButMarshals(t *testing.T) {
	cfg := validConfig()
	s := cfg.String()
	assert.Contains(t, s, "telegram")
	assert.Contains(t, s, "ai")
}
