// Package config reads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
)

type Config struct {
	Port     string
	LogLevel string

	StoreDriver string
	MySQLDSN    string

	// optional integrations, disabled when empty
	RedisAddr       string
	AMQPURL         string
	NotifyExchange  string
	OrderServiceURL string

	SweepInterval   time.Duration
	ArchiveSchedule string
	RetentionWindow time.Duration
	ExtensionWindow time.Duration
	MaxBidRetries   int

	AllowedOrigins []string
}

// Load reads the given .env files (missing files are ignored) and then the
// environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := Config{
		Port:            getenv("PORT", "8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		StoreDriver:     strings.ToLower(getenv("STORE_DRIVER", DriverMemory)),
		MySQLDSN:        os.Getenv("MYSQL_DSN"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		AMQPURL:         os.Getenv("AMQP_URL"),
		NotifyExchange:  getenv("NOTIFY_EXCHANGE", "auction_notifications"),
		OrderServiceURL: os.Getenv("ORDER_SERVICE_URL"),
		ArchiveSchedule: getenv("ARCHIVE_SCHEDULE", "0 0 * * *"),
		AllowedOrigins:  splitList(getenv("ALLOWED_ORIGINS", "*")),
	}

	var err error
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RetentionWindow, err = durationEnv("RETENTION_WINDOW", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ExtensionWindow, err = durationEnv("EXTENSION_WINDOW", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.MaxBidRetries, err = intEnv("MAX_BID_RETRIES", 5); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("config: MYSQL_DSN is required when STORE_DRIVER=%s", DriverMySQL)
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SweepInterval <= 0 || c.ExtensionWindow <= 0 || c.RetentionWindow <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL, EXTENSION_WINDOW and RETENTION_WINDOW must be positive")
	}
	if c.MaxBidRetries < 1 {
		return fmt.Errorf("config: MAX_BID_RETRIES must be at least 1")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return d, nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
