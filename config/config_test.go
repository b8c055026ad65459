package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/warp/supply-ledger/config"
)

func TestLoadEnv_Defaults(t *testing.T) {
	cfg := config.LoadEnv()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "supply.db", cfg.SQLite.Path)
	assert.Equal(t, 4, cfg.SQLite.MaxOpenConns)
	assert.Equal(t, 5000, cfg.SQLite.BusyTimeoutMS)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, time.Hour, cfg.Audit.Interval)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://hq.example.com, https://ops.example.com,")
	t.Setenv("AUDIT_ENABLED", "false")
	t.Setenv("AUDIT_INTERVAL", "15m")

	cfg := config.LoadEnv()

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.SQLite.Path)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, []string{"https://hq.example.com", "https://ops.example.com"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Audit.Interval)
}

func TestLoadEnv_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("AUDIT_ENABLED", "maybe")
	t.Setenv("AUDIT_INTERVAL", "-5s")

	cfg := config.LoadEnv()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, time.Hour, cfg.Audit.Interval)
}

func TestNewLogger(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "warn")

	log, err := config.NewLogger(config.LoadEnv())
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	t.Setenv("LOG_LEVEL", "loud")
	_, err = config.NewLogger(config.LoadEnv())
	assert.Error(t, err)
}

func TestValidate_JWTSecret(t *testing.T) {
	// GIVEN: The default secret
	// WHEN: Running outside production, then in production
	// THEN: Development accepts it; production and an empty secret do not

	t.Setenv("APP_ENV", "development")
	cfg := config.LoadEnv()
	assert.Equal(t, config.DefaultJWTSecret, cfg.JWT.Secret)
	assert.NoError(t, cfg.Validate())

	t.Setenv("APP_ENV", "production")
	cfg = config.LoadEnv()
	assert.ErrorIs(t, cfg.Validate(), config.ErrDefaultJWTSecret)

	t.Setenv("JWT_SECRET", "")
	cfg = config.LoadEnv()
	assert.ErrorIs(t, cfg.Validate(), config.ErrMissingJWTSecret)

	t.Setenv("JWT_SECRET", "s3cret")
	cfg = config.LoadEnv()
	assert.NoError(t, cfg.Validate())
}
