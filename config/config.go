package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the full application configuration surface.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Audit  AuditConfig
	Alerts AlertConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// StoreConfig holds SQLite related options.
type StoreConfig struct {
	// DBPath is the SQLite database file. ":memory:" runs fully in-memory.
	DBPath string
}

// AuditConfig holds correction-workflow options.
type AuditConfig struct {
	// CorrectionWindow limits how long after execution a non-elevated actor
	// may amend a record.
	CorrectionWindow time.Duration
}

// AlertConfig holds expiry-scanner options.
type AlertConfig struct {
	// CronSchedule is a standard 5-field cron expression for the expiry scan.
	CronSchedule string

	// WindowDays is how far ahead the scanner looks for expiring batches.
	WindowDays int
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are acceptable when configuration comes from the
		// environment directly.
		_ = godotenv.Load()
	}

	windowDays, err := getenvInt("CORRECTION_WINDOW_DAYS", 7)
	if err != nil {
		return nil, err
	}
	alertDays, err := getenvInt("ALERT_WINDOW_DAYS", 30)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		Store: StoreConfig{
			DBPath: getenvWithDefault("DB_PATH", "feedlot.db"),
		},
		Audit: AuditConfig{
			CorrectionWindow: time.Duration(windowDays) * 24 * time.Hour,
		},
		Alerts: AlertConfig{
			CronSchedule: getenvWithDefault("ALERT_CRON_SCHEDULE", "0 6 * * *"),
			WindowDays:   alertDays,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}
	if c.Store.DBPath == "" {
		return errors.New("DB_PATH must be provided")
	}
	if c.Audit.CorrectionWindow <= 0 {
		return errors.New("CORRECTION_WINDOW_DAYS must be positive")
	}
	if c.Alerts.WindowDays <= 0 {
		return errors.New("ALERT_WINDOW_DAYS must be positive")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
