package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// DriverMemory keeps everything in process; nothing survives a restart.
	DriverMemory = "memory"
)

// Config captures environment driven configuration values for the scheduler service.
type Config struct {
	HTTPPort        int
	DBDriver        string
	DBDSN           string
	DefaultTimeZone string
	LogLevel        string
	LogFormat       string
	CronTokenHash   string
	WebhookURL      string
	WebhookTimeout  time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	AutogenLockTTL  time.Duration
}

// Load reads an optional .env file from the working directory and then parses
// configuration values from the process environment. Variables already set in
// the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv parses configuration values from the current process environment.
//
// Optional values fall back to defaults; invalid values are collected and
// reported together.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPPort:        8080,
		DBDriver:        DriverSQLite,
		DBDSN:           "file:cleaning.db",
		DefaultTimeZone: "Europe/Moscow",
		LogLevel:        "info",
		LogFormat:       "json",
		WebhookTimeout:  5 * time.Second,
		AutogenLockTTL:  10 * time.Minute,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 4)

	if portValue := env("CLEANING_HTTP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "CLEANING_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if driver := strings.ToLower(env("CLEANING_DB_DRIVER")); driver != "" {
		switch driver {
		case DriverSQLite, DriverPostgres, DriverMemory:
			cfg.DBDriver = driver
		default:
			invalid = append(invalid, "CLEANING_DB_DRIVER")
		}
	}

	if dsn := env("CLEANING_DB_DSN"); dsn != "" {
		cfg.DBDSN = dsn
	} else if cfg.DBDriver == DriverPostgres {
		missing = append(missing, "CLEANING_DB_DSN")
	}

	if tz := env("CLEANING_DEFAULT_TIMEZONE"); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			invalid = append(invalid, "CLEANING_DEFAULT_TIMEZONE")
		} else {
			cfg.DefaultTimeZone = tz
		}
	}

	if level := env("CLEANING_LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := env("CLEANING_LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	if hash := env("CLEANING_CRON_TOKEN_HASH"); hash != "" {
		if !strings.HasPrefix(hash, "$argon2id$") {
			invalid = append(invalid, "CLEANING_CRON_TOKEN_HASH")
		} else {
			cfg.CronTokenHash = hash
		}
	}

	cfg.WebhookURL = env("CLEANING_WEBHOOK_URL")
	if timeoutValue := env("CLEANING_WEBHOOK_TIMEOUT"); timeoutValue != "" {
		timeout, err := time.ParseDuration(timeoutValue)
		if err != nil || timeout <= 0 {
			invalid = append(invalid, "CLEANING_WEBHOOK_TIMEOUT")
		} else {
			cfg.WebhookTimeout = timeout
		}
	}

	cfg.RedisAddr = env("CLEANING_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("CLEANING_REDIS_PASSWORD")
	if dbValue := env("CLEANING_REDIS_DB"); dbValue != "" {
		db, err := strconv.Atoi(dbValue)
		if err != nil || db < 0 {
			invalid = append(invalid, "CLEANING_REDIS_DB")
		} else {
			cfg.RedisDB = db
		}
	}

	if ttlValue := env("CLEANING_AUTOGEN_LOCK_TTL"); ttlValue != "" {
		ttl, err := time.ParseDuration(ttlValue)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "CLEANING_AUTOGEN_LOCK_TTL")
		} else {
			cfg.AutogenLockTTL = ttl
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
