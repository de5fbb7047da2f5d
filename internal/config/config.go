package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the bot and the API client.
type Config struct {
	TelegramToken   string        `yaml:"telegram_token"`
	APIBaseURL      string        `yaml:"api_base_url"`
	APIToken        string        `yaml:"api_token"`
	APIUserID       string        `yaml:"api_user_id"`
	DatabaseURL     string        `yaml:"database_url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	DigestTime      string        `yaml:"digest_time"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// Load reads configuration from an optional YAML file named by
// TASKDECK_CONFIG; environment variables override file values.
func Load() (Config, error) {
	var cfg Config

	if path := strings.TrimSpace(os.Getenv("TASKDECK_CONFIG")); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config %q: %w", path, err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if cfg.APIBaseURL == "" {
		return cfg, fmt.Errorf("TASK_API_URL is required")
	}
	if cfg.APIToken == "" {
		return cfg, fmt.Errorf("TASK_API_TOKEN is required")
	}
	if cfg.APIUserID == "" {
		return cfg, fmt.Errorf("TASK_API_USER_ID is required")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	setString(&cfg.APIBaseURL, "TASK_API_URL")
	setString(&cfg.APIToken, "TASK_API_TOKEN")
	setString(&cfg.APIUserID, "TASK_API_USER_ID")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.DigestTime, "DIGEST_TIME")

	if raw := strings.TrimSpace(os.Getenv("REFRESH_INTERVAL_MINUTES")); raw != "" {
		if d, err := time.ParseDuration(raw + "m"); err == nil && d > 0 {
			cfg.RefreshInterval = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("REQUEST_TIMEOUT_SECONDS")); raw != "" {
		if d, err := time.ParseDuration(raw + "s"); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "taskdeck.db"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}
	if cfg.DigestTime == "" {
		cfg.DigestTime = "08:00"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
