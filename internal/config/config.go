package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr          string `yaml:"addr"`
	DatabaseURL   string `yaml:"database_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	DBMaxOpen     int    `yaml:"db_max_open_conns"`

	JWTSecret   string        `yaml:"jwt_secret"`
	JWTIssuer   string        `yaml:"jwt_issuer"`
	JWTAudience string        `yaml:"jwt_audience"`
	TokenTTL    time.Duration `yaml:"token_ttl"`

	CORSOrigin string `yaml:"cors_origin"`

	// Redis backs the idempotency cache; empty keeps it in process.
	RedisURL       string        `yaml:"redis_url"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`

	ReorderMaxAttempts int    `yaml:"reorder_max_attempts"`
	LogLevel           string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Addr:               ":8787",
		MigrationsDir:      "./db/migrations",
		DBMaxOpen:          20,
		JWTSecret:          "kanban-dev-secret",
		JWTIssuer:          "kanban",
		JWTAudience:        "kanban-api",
		TokenTTL:           15 * time.Minute,
		CORSOrigin:         "*",
		IdempotencyTTL:     24 * time.Hour,
		ReorderMaxAttempts: 8,
		LogLevel:           "info",
	}
}

// Load starts from Default, applies the YAML file named by KANBAN_CONFIG
// when set, then environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("KANBAN_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = getenv("API_ADDR", c.Addr)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.MigrationsDir = getenv("KANBAN_MIGRATIONS_DIR", c.MigrationsDir)
	c.DBMaxOpen = getenvInt("KANBAN_DB_MAX_OPEN_CONNS", c.DBMaxOpen)
	c.JWTSecret = getenv("KANBAN_JWT_SECRET", c.JWTSecret)
	c.JWTIssuer = getenv("KANBAN_JWT_ISSUER", c.JWTIssuer)
	c.JWTAudience = getenv("KANBAN_JWT_AUDIENCE", c.JWTAudience)
	c.TokenTTL = getenvSeconds("KANBAN_TOKEN_TTL_SECONDS", c.TokenTTL)
	c.CORSOrigin = getenv("KANBAN_CORS_ORIGIN", c.CORSOrigin)
	c.RedisURL = getenv("REDIS_URL", c.RedisURL)
	c.IdempotencyTTL = getenvSeconds("KANBAN_IDEMPOTENCY_TTL_SECONDS", c.IdempotencyTTL)
	c.ReorderMaxAttempts = getenvInt("KANBAN_REORDER_MAX_ATTEMPTS", c.ReorderMaxAttempts)
	c.LogLevel = getenv("KANBAN_LOG_LEVEL", c.LogLevel)
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret must not be empty"))
	}
	if c.ReorderMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("reorder max attempts must be positive, got %d", c.ReorderMaxAttempts))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("idempotency ttl must be positive, got %s", c.IdempotencyTTL))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel returns the configured log level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", value, err)
	}
	return level, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvSeconds(key string, fallback time.Duration) time.Duration {
	seconds := getenvInt(key, -1)
	if seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
