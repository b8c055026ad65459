/*
config.go - Process configuration

PURPOSE:
  Collects every knob the server reads at startup into one struct. Values
  come from the environment (optionally seeded from a .env file); the
  command-line flags in cmd/server override the port and database path.

KEYS:
  APP_ENV                development | production          (development)
  HTTP_PORT              listen port                        (8080)
  DB_PATH                SQLite file, or :memory:           (supply.db)
  DB_MAX_OPEN_CONNS      pool size for file databases       (4)
  DB_BUSY_TIMEOUT_MS     SQLite busy timeout                (5000)
  LOG_LEVEL              debug | info | warn | error        (info)
  LOG_ENCODING           json | console                     (json)
  JWT_SECRET             HS256 key for bearer tokens; required in production
  CORS_ALLOWED_ORIGINS   comma separated
  AUDIT_ENABLED          run the ledger audit scheduler     (true)
  AUDIT_INTERVAL         Go duration                        (1h)

SEE ALSO:
  - logger.go: builds the zap logger from LoggerConfig
  - cmd/server/main.go: flag overrides
*/
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DefaultJWTSecret is only acceptable outside production.
const DefaultJWTSecret = "change-me-in-production"

var (
	ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")
	ErrDefaultJWTSecret = errors.New("JWT_SECRET must not use the default value in production")
)

type Config struct {
	Server ServerConfig
	Logger LoggerConfig
	SQLite SQLiteConfig
	JWT    JWTConfig
	Audit  AuditConfig
}

type ServerConfig struct {
	AppEnv         string
	Port           int
	AllowedOrigins []string
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type SQLiteConfig struct {
	Path          string
	MaxOpenConns  int
	BusyTimeoutMS int
}

type JWTConfig struct {
	Secret string
}

type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
}

// IsDevelopment reports whether the server runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == EnvDevelopment
}

// Validate rejects settings the server must not start with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return ErrMissingJWTSecret
	}
	if c.Server.AppEnv == EnvProduction && c.JWT.Secret == DefaultJWTSecret {
		return ErrDefaultJWTSecret
	}
	return nil
}

// Load reads .env (if present) and then the environment.
func Load() *Config {
	_ = godotenv.Load()
	return LoadEnv()
}

// LoadEnv builds a Config from the current environment only.
func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv:         getEnv("APP_ENV", EnvDevelopment),
			Port:           getEnvInt("HTTP_PORT", 8080),
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		SQLite: SQLiteConfig{
			Path:          getEnv("DB_PATH", "supply.db"),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 4),
			BusyTimeoutMS: getEnvInt("DB_BUSY_TIMEOUT_MS", 5000),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", DefaultJWTSecret),
		},
		Audit: AuditConfig{
			Enabled:  getEnvBool("AUDIT_ENABLED", true),
			Interval: getEnvDuration("AUDIT_INTERVAL", time.Hour),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
