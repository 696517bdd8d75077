// Package config loads runtime configuration for the ledger service from the
// environment (optionally seeded from a .env file) and the plan catalog from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/vaultline/ledger/pkg/logger"
)

// CSV decodes a comma separated environment value.
type CSV []string

// Decode implements envdecode.Decoder.
func (c *CSV) Decode(value string) error {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*c = out
	return nil
}

// Contains reports whether v is in the list.
func (c CSV) Contains(v string) bool {
	for _, item := range c {
		if item == v {
			return true
		}
	}
	return false
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=20s"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `env:"DATABASE_DRIVER,default=memory"` // memory | postgres
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	Migrate         bool          `env:"DATABASE_MIGRATE,default=true"`
}

type AuthConfig struct {
	Mode            string `env:"AUTH_MODE,default=jwt"` // jwt | supabase
	JWTSecret       string `env:"AUTH_JWT_SECRET"`
	JWTIssuer       string `env:"AUTH_JWT_ISSUER"`
	AdminRole       string `env:"AUTH_ADMIN_ROLE,default=admin"`
	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`
	AdminUserIDs    CSV    `env:"ADMIN_USER_IDS"`
}

type PricingConfig struct {
	Mode              string        `env:"PRICING_MODE,default=http"` // http | static
	BaseURL           string        `env:"PRICING_BASE_URL,default=https://api.coingecko.com/api/v3"`
	APIKey            string        `env:"PRICING_API_KEY"`
	Timeout           time.Duration `env:"PRICING_TIMEOUT,default=5s"`
	MaxRetries        int           `env:"PRICING_MAX_RETRIES,default=3"`
	InitialBackoff    time.Duration `env:"PRICING_INITIAL_BACKOFF,default=200ms"`
	RequestsPerSecond float64       `env:"PRICING_REQUESTS_PER_SECOND,default=5"`
	StaticPrices      CSV           `env:"PRICING_STATIC_PRICES"` // SYMBOL=price pairs
	Symbols           CSV           `env:"SUPPORTED_CRYPTO"`
}

type MailConfig struct {
	Driver     string        `env:"MAIL_DRIVER,default=log"` // log | smtp
	SMTPHost   string        `env:"SMTP_HOST"`
	SMTPPort   int           `env:"SMTP_PORT,default=587"`
	Username   string        `env:"SMTP_USERNAME"`
	Password   string        `env:"SMTP_PASSWORD"`
	From       string        `env:"MAIL_FROM,default=no-reply@vaultline.local"`
	AdminEmail string        `env:"MAIL_ADMIN_EMAIL"`
	Timeout    time.Duration `env:"MAIL_TIMEOUT,default=10s"`
}

type PayoutConfig struct {
	Enabled     bool          `env:"PAYOUTS_ENABLED,default=true"`
	Schedule    string        `env:"PAYOUT_SCHEDULE,default=@every 1h"`
	BatchSize   int           `env:"PAYOUT_BATCH_SIZE,default=500"`
	LockBackend string        `env:"PAYOUT_LOCK,default=local"` // local | redis | postgres
	LockTTL     time.Duration `env:"PAYOUT_LOCK_TTL,default=10m"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type CORSConfig struct {
	AllowedOrigins CSV `env:"CORS_ALLOWED_ORIGINS"`
}

type RateLimitConfig struct {
	Enabled           bool    `env:"RATE_LIMIT_ENABLED,default=true"`
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS,default=20"`
	Burst             int     `env:"RATE_LIMIT_BURST,default=40"`
}

type CatalogConfig struct {
	Path string `env:"PLAN_CATALOG_PATH"`
}

// AuditConfig controls the admin action log. Path enables a JSONL file sink.
type AuditConfig struct {
	Path     string `env:"AUDIT_LOG_PATH"`
	Capacity int    `env:"AUDIT_LOG_CAPACITY,default=200"`
}

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   logger.LoggingConfig
	Auth      AuthConfig
	Pricing   PricingConfig
	Mail      MailConfig
	Payouts   PayoutConfig
	Redis     RedisConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Catalog   CatalogConfig
	Audit     AuditConfig
}

// DefaultSymbols are the crypto tickers accepted when SUPPORTED_CRYPTO is unset.
var DefaultSymbols = CSV{"BTC", "ETH", "USDT", "LTC", "SOL"}

// Load reads an optional .env file (ENV_FILE, default ".env") and decodes the
// environment into a validated Config.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv decodes the current process environment.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Pricing.Symbols) == 0 {
		c.Pricing.Symbols = append(CSV(nil), DefaultSymbols...)
	}
	for i, s := range c.Pricing.Symbols {
		c.Pricing.Symbols[i] = strings.ToUpper(s)
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = CSV{"*"}
	}
	if c.Payouts.BatchSize <= 0 {
		c.Payouts.BatchSize = 500
	}
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported DATABASE_DRIVER %q", c.Database.Driver))
	}

	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			problems = append(problems, "AUTH_JWT_SECRET is required for jwt auth")
		}
	case "supabase":
		if c.Auth.SupabaseURL == "" || c.Auth.SupabaseAnonKey == "" {
			problems = append(problems, "SUPABASE_URL and SUPABASE_ANON_KEY are required for supabase auth")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported AUTH_MODE %q", c.Auth.Mode))
	}

	switch c.Pricing.Mode {
	case "http", "static":
	default:
		problems = append(problems, fmt.Sprintf("unsupported PRICING_MODE %q", c.Pricing.Mode))
	}

	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.SMTPHost == "" {
			problems = append(problems, "SMTP_HOST is required for the smtp mail driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported MAIL_DRIVER %q", c.Mail.Driver))
	}

	switch c.Payouts.LockBackend {
	case "local":
	case "redis":
		if c.Redis.URL == "" {
			problems = append(problems, "REDIS_URL is required for the redis payout lock")
		}
	case "postgres":
		if c.Database.Driver != "postgres" {
			problems = append(problems, "PAYOUT_LOCK=postgres requires DATABASE_DRIVER=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported PAYOUT_LOCK %q", c.Payouts.LockBackend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
