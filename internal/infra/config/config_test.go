package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "postgres://localhost/costcontrol?sslmode=disable")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	for _, key := range []string{"HTTP_ADDR", "LOG_LEVEL", "ENVIRONMENT", "TIMEZONE", "WEEK_STARTS_ON_MONDAY",
		"CORS_ALLOWED_ORIGINS", "CRON_SPEC_USAGE_CHECK", "CRON_SPEC_RESET_SWEEP", "CRON_SPEC_INTERFACE_REFRESH"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, time.Local, cfg.Location)
	assert.False(t, cfg.WeekStartsOnMonday)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "*/15 * * * *", cfg.CronSpecUsageCheck)
	assert.Equal(t, "*/5 * * * *", cfg.CronSpecResetSweep)
	assert.Equal(t, "*/10 * * * *", cfg.CronSpecInterfaceRefresh)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("WEEK_STARTS_ON_MONDAY", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.True(t, cfg.WeekStartsOnMonday)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		setRequired(t)
		t.Setenv("TELEGRAM_TOKEN", "")
		_, err := Load()
		assert.ErrorContains(t, err, "TELEGRAM_TOKEN")
	})
	t.Run("missing database", func(t *testing.T) {
		setRequired(t)
		t.Setenv("DATABASE_URL", "")
		_, err := Load()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})
	t.Run("bad timezone", func(t *testing.T) {
		setRequired(t)
		t.Setenv("TIMEZONE", "Mars/Olympus")
		_, err := Load()
		assert.ErrorContains(t, err, "TIMEZONE")
	})
	t.Run("bad week start", func(t *testing.T) {
		setRequired(t)
		t.Setenv("TIMEZONE", "")
		t.Setenv("WEEK_STARTS_ON_MONDAY", "sometimes")
		_, err := Load()
		assert.ErrorContains(t, err, "WEEK_STARTS_ON_MONDAY")
	})
}
