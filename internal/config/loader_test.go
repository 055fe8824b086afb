package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"CLEANING_HTTP_PORT",
	"CLEANING_DB_DRIVER",
	"CLEANING_DB_DSN",
	"CLEANING_DEFAULT_TIMEZONE",
	"CLEANING_LOG_LEVEL",
	"CLEANING_LOG_FORMAT",
	"CLEANING_CRON_TOKEN_HASH",
	"CLEANING_WEBHOOK_URL",
	"CLEANING_WEBHOOK_TIMEOUT",
	"CLEANING_REDIS_ADDR",
	"CLEANING_REDIS_PASSWORD",
	"CLEANING_REDIS_DB",
	"CLEANING_AUTOGEN_LOCK_TTL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "file:cleaning.db", cfg.DBDSN)
	assert.Equal(t, "Europe/Moscow", cfg.DefaultTimeZone)
	assert.Equal(t, 5*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 10*time.Minute, cfg.AutogenLockTTL)
	assert.Empty(t, cfg.CronTokenHash)
	assert.Empty(t, cfg.RedisAddr)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLEANING_HTTP_PORT", "9090")
	t.Setenv("CLEANING_DB_DRIVER", "Postgres")
	t.Setenv("CLEANING_DB_DSN", "postgres://localhost/cleaning?sslmode=disable")
	t.Setenv("CLEANING_DEFAULT_TIMEZONE", "Asia/Yekaterinburg")
	t.Setenv("CLEANING_REDIS_ADDR", "localhost:6379")
	t.Setenv("CLEANING_REDIS_DB", "2")
	t.Setenv("CLEANING_CRON_TOKEN_HASH", "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "Asia/Yekaterinburg", cfg.DefaultTimeZone)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.NotEmpty(t, cfg.CronTokenHash)
}

func TestFromEnv_Errors(t *testing.T) {
	t.Run("postgres requires a dsn", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CLEANING_DB_DRIVER", "postgres")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CLEANING_DB_DSN")
	})

	t.Run("invalid values are reported together", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CLEANING_HTTP_PORT", "zero")
		t.Setenv("CLEANING_DEFAULT_TIMEZONE", "Mars/Olympus")
		t.Setenv("CLEANING_WEBHOOK_TIMEOUT", "-1s")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CLEANING_HTTP_PORT")
		assert.Contains(t, err.Error(), "CLEANING_DEFAULT_TIMEZONE")
		assert.Contains(t, err.Error(), "CLEANING_WEBHOOK_TIMEOUT")
	})
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CLEANING_HTTP_PORT=7070\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() { _ = os.Unsetenv("CLEANING_HTTP_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTPPort)
}
