package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/mcclellann/fredMicro/pkg/penalty"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration
type Config struct {
	Port            string
	DBDriver        string
	DBConn          string
	LogLevel        logrus.Level
	JWTSecret       string // Empty disables bearer authentication
	Location        *time.Location
	PenaltyUnit     int64
	RefreshSchedule string
	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SenderEmail     string
}

// Load reads the optional .env file and builds the configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBDriver:        getEnv("DB_DRIVER", "sqlite3"),
		DBConn:          getEnv("DB_CONN", "microcredits.db"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", "1 0 * * *"),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SenderEmail:     getEnv("SENDER_EMAIL", ""),
	}

	if cfg.DBDriver != "sqlite3" && cfg.DBDriver != "postgres" {
		return nil, fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", cfg.DBDriver)
	}
	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "America/Bogota"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	unit, err := strconv.ParseInt(getEnv("PENALTY_UNIT", strconv.FormatInt(penalty.DefaultUnit, 10)), 10, 64)
	if err != nil || unit <= 0 {
		return nil, fmt.Errorf("PENALTY_UNIT must be a positive integer")
	}
	cfg.PenaltyUnit = unit

	if _, err := cron.ParseStandard(cfg.RefreshSchedule); err != nil {
		return nil, fmt.Errorf("invalid REFRESH_SCHEDULE %q: %w", cfg.RefreshSchedule, err)
	}

	if cfg.SMTPHost != "" && cfg.SenderEmail == "" {
		return nil, fmt.Errorf("SENDER_EMAIL is required when SMTP_HOST is set")
	}

	return cfg, nil
}

// MailEnabled reports whether arrears reminders can be sent.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

// PenaltyRules returns the penalty rules configured for this deployment.
func (c *Config) PenaltyRules() penalty.Rules {
	return penalty.Rules{Unit: c.PenaltyUnit}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
