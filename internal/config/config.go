package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	UpstreamBaseURL string `env:"UPSTREAM_BASE_URL" envDefault:"https://www.googleapis.com/youtube/v3"`
	OAuthTokenURL   string `env:"OAUTH_TOKEN_URL" envDefault:"https://oauth2.googleapis.com/token"`
	LLMBaseURL      string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMAPIKey       string `env:"LLM_API_KEY"`
	LLMModel        string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	ViewerURL       string `env:"VIEWER_URL"`

	QuotaResetTimezone string `env:"QUOTA_RESET_TZ" envDefault:"UTC"`

	ScheduleConcurrency int `env:"SCHEDULE_WORKER_CONCURRENCY" envDefault:"5"`
	PostConcurrency     int `env:"POST_WORKER_CONCURRENCY" envDefault:"100"`
	ViewConcurrency     int `env:"VIEW_WORKER_CONCURRENCY" envDefault:"5"`
	PostRatePerSecond   int `env:"POST_RATE_PER_SECOND" envDefault:"100"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ResetLocation resolves the timezone the daily quota reset fires in.
func (c *Config) ResetLocation() (*time.Location, error) {
	return time.LoadLocation(c.QuotaResetTimezone)
}

func (c *Config) Validate() error {
	if _, err := c.ResetLocation(); err != nil {
		return fmt.Errorf("QUOTA_RESET_TZ is not a valid IANA timezone: %w", err)
	}
	if c.ScheduleConcurrency <= 0 || c.PostConcurrency <= 0 || c.ViewConcurrency <= 0 {
		return fmt.Errorf("worker concurrency values must be positive")
	}
	if c.PostRatePerSecond <= 0 {
		return fmt.Errorf("POST_RATE_PER_SECOND must be positive")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
