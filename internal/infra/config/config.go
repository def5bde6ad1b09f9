package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken      string
	DatabaseURL        string
	HTTPAddr           string
	LogLevel           string
	Environment        string
	Location           *time.Location // Reset instants are computed at midnight in this zone
	WeekStartsOnMonday bool
	CORSAllowedOrigins []string

	CronSpecUsageCheck       string // Data limit check for all subscribers
	CronSpecResetSweep       string // Catches resets missed while the service was down
	CronSpecInterfaceRefresh string // Reloads the network interface registry
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", ":8080")

	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(envOrDefault("ENVIRONMENT", "development"))

	tz := os.Getenv("TIMEZONE")
	if tz == "" {
		cfg.Location = time.Local
	} else {
		cfg.Location, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
		}
	}

	if v := os.Getenv("WEEK_STARTS_ON_MONDAY"); v != "" {
		cfg.WeekStartsOnMonday, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WEEK_STARTS_ON_MONDAY: %w", err)
		}
	}

	origins := envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:8080")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	cfg.CronSpecUsageCheck = envOrDefault("CRON_SPEC_USAGE_CHECK", "*/15 * * * *")
	cfg.CronSpecResetSweep = envOrDefault("CRON_SPEC_RESET_SWEEP", "*/5 * * * *")
	cfg.CronSpecInterfaceRefresh = envOrDefault("CRON_SPEC_INTERFACE_REFRESH", "*/10 * * * *")

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
