package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL         string        `envconfig:"DATABASE_URL"`
	DatabaseMaxConns    int32         `envconfig:"DATABASE_MAX_CONNS" default:"30"`
	DatabaseLockTimeout time.Duration `envconfig:"DATABASE_LOCK_TIMEOUT" default:"3s"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	StoreTimezone        string        `envconfig:"STORE_TIMEZONE" default:"Asia/Jakarta"`
	SalesCacheTTL        time.Duration `envconfig:"SALES_CACHE_TTL" default:"2m"`
	CommitMaxAttempts    int           `envconfig:"COMMIT_MAX_ATTEMPTS" default:"3"`
	CommitRetryBaseDelay time.Duration `envconfig:"COMMIT_RETRY_BASE_DELAY" default:"50ms"`
	InvoiceMaxAttempts   int           `envconfig:"INVOICE_MAX_ATTEMPTS" default:"5"`
	SideEffectTimeout    time.Duration `envconfig:"SIDE_EFFECT_TIMEOUT" default:"2s"`

	WriteRateLimitPerMinute int `envconfig:"WRITE_RATE_LIMIT_PER_MINUTE" default:"120"`
	WorkerConcurrency       int `envconfig:"WORKER_CONCURRENCY" default:"5"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)

	if cfg.CommitMaxAttempts < 1 {
		return Config{}, errors.New("config: COMMIT_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.InvoiceMaxAttempts < 1 {
		return Config{}, errors.New("config: INVOICE_MAX_ATTEMPTS must be at least 1")
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location is the timezone that decides the calendar day of an invoice.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.StoreTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: STORE_TIMEZONE %q: %w", c.StoreTimezone, err)
	}
	return loc, nil
}

func NewLogger(c Config) *slog.Logger {
	return newLogger(os.Stdout, c)
}

func newLogger(w io.Writer, c Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
