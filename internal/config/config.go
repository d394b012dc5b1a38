// Package config loads runtime settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// AppConfig holds the entire runtime configuration.
type AppConfig struct {
	BaseURL               string  `mapstructure:"base_url"`
	BatchSize             int     `mapstructure:"batch_size"`
	MaxConcurrentRequests int     `mapstructure:"max_concurrent_requests"`
	RequestTimeoutSecs    int     `mapstructure:"request_timeout_secs"`
	RateLimitRPS          float64 `mapstructure:"rate_limit_rps"`
	RetryMaxAttempts      int     `mapstructure:"retry_max_attempts"`
	RetryBackoffMs        int     `mapstructure:"retry_backoff_ms"`
	LiveAddr              string  `mapstructure:"live_addr"`
}

// DefaultMaxConcurrent is the default fetch concurrency cap.
func DefaultMaxConcurrent() int {
	n := runtime.NumCPU() * 4
	if n > 64 {
		n = 64
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Load reads configuration from path (optional; "" skips the file) and the
// environment. Env keys mirror config keys with "." replaced by "_", e.g.
// BASE_URL, BATCH_SIZE.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("base_url", "http://localhost:6000/stream")
	v.SetDefault("batch_size", 16)
	v.SetDefault("max_concurrent_requests", DefaultMaxConcurrent())
	v.SetDefault("request_timeout_secs", 10)
	v.SetDefault("rate_limit_rps", 0.0)
	v.SetDefault("retry_max_attempts", 1)
	v.SetDefault("retry_backoff_ms", 200)
	v.SetDefault("live_addr", "")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url must not be empty")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxConcurrentRequests < 1 {
		return nil, fmt.Errorf("max_concurrent_requests must be positive, got %d", cfg.MaxConcurrentRequests)
	}
	return &cfg, nil
}
