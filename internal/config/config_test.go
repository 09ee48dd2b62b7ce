package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("ResetLocation resolves timezone", func(t *testing.T) {
		cfg := &Config{QuotaResetTimezone: "UTC"}
		loc, err := cfg.ResetLocation()
		require.NoError(t, err)
		assert.Equal(t, "UTC", loc.String())
	})
}

func TestValidate(t *testing.T) {
	valid := Config{
		QuotaResetTimezone:  "UTC",
		ScheduleConcurrency: 5,
		PostConcurrency:     100,
		ViewConcurrency:     5,
		PostRatePerSecond:   100,
	}

	t.Run("accepts sane config", func(t *testing.T) {
		cfg := valid
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects bad timezone", func(t *testing.T) {
		cfg := valid
		cfg.QuotaResetTimezone = "Not/AZone"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects zero concurrency", func(t *testing.T) {
		cfg := valid
		cfg.PostConcurrency = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects zero rate", func(t *testing.T) {
		cfg := valid
		cfg.PostRatePerSecond = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":         os.Getenv("PORT"),
		"DATABASE_URL": os.Getenv("DATABASE_URL"),
		"REDIS_URL":    os.Getenv("REDIS_URL"),
		"LOG_LEVEL":    os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 5, cfg.ScheduleConcurrency)
		assert.Equal(t, 100, cfg.PostConcurrency)
		assert.Equal(t, 100, cfg.PostRatePerSecond)
		assert.Equal(t, "UTC", cfg.QuotaResetTimezone)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
