package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env           string `env:"ENV,default=dev"`
	HTTPAddr      string `env:"HTTP_ADDR,default=:8080"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`

	// Only the worker binary listens here; the server exposes /metrics itself.
	WorkerMetricsAddr string `env:"WORKER_METRICS_ADDR,default=:9091"`

	Database DatabaseConfig
	SMTP     SMTPConfig
	Dispatch DispatchConfig

	// Empty AMQP_URL selects the in-memory queue.
	AMQPURL string `env:"AMQP_URL"`
	// Empty REDIS_URL disables the delivery ledger.
	RedisURL string `env:"REDIS_URL"`
}

type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"`
	User     string `env:"DB_USER,default=postgres"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST,default=localhost"`
	Port     string `env:"DB_PORT,default=5432"`
	Name     string `env:"DB_NAME,default=newsletter"`
}

// DSN prefers DATABASE_URL and falls back to the individual DB_* pieces.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

type SMTPConfig struct {
	Host     string        `env:"SMTP_HOST"`
	Port     int           `env:"SMTP_PORT,default=587"`
	Username string        `env:"SMTP_USERNAME"`
	Password string        `env:"SMTP_PASSWORD"`
	From     string        `env:"SMTP_FROM,default=newsletter@localhost"`
	Timeout  time.Duration `env:"SMTP_TIMEOUT,default=10s"`
}

type DispatchConfig struct {
	BatchSize      int           `env:"BATCH_SIZE,default=10"`
	BatchDelay     time.Duration `env:"BATCH_DELAY,default=2s"`
	MaxRetries     int           `env:"MAX_RETRIES,default=3"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY,default=1s"`
	// 0 means one in-flight send per batch member.
	MaxConcurrency int `env:"MAX_CONCURRENCY,default=0"`
}

// Concurrency returns the effective per-batch cap, never above BatchSize.
func (d DispatchConfig) Concurrency() int {
	if d.MaxConcurrency <= 0 || d.MaxConcurrency > d.BatchSize {
		return d.BatchSize
	}
	return d.MaxConcurrency
}

const maxRetries = 10

func (d DispatchConfig) Validate() error {
	if d.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", d.BatchSize)
	}
	if d.MaxRetries < 1 || d.MaxRetries > maxRetries {
		return fmt.Errorf("MAX_RETRIES must be between 1 and %d, got %d", maxRetries, d.MaxRetries)
	}
	if d.BatchDelay < 0 || d.RetryBaseDelay < 0 {
		return fmt.Errorf("dispatch delays must not be negative")
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == "dev"
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return process(ctx, envconfig.OsLookuper())
}

func process(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	config := Config{}
	if err := envconfig.ProcessWith(ctx, &config, l); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := config.Dispatch.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating dispatch config: %w", err)
	}
	return config, nil
}
