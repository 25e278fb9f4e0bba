// Package config loads server configuration from an optional YAML file with
// environment variable overrides. Defaults come first, then the file, then
// the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	CORS          CORSConfig          `yaml:"cors"`
	Billing       BillingConfig       `yaml:"billing"`
	Impersonation ImpersonationConfig `yaml:"impersonation"`
	Retention     RetentionConfig     `yaml:"retention"`
	Audit         AuditConfig         `yaml:"audit"`
}

type ServerConfig struct {
	Host            string `yaml:"host" env:"SERVER_HOST"`
	Port            int    `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     int    `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    int    `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

type DatabaseConfig struct {
	// Driver selects the persistence backend: postgres or memory.
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrationsDir   string `yaml:"migrations_dir" env:"DATABASE_MIGRATIONS_DIR"`
}

type RedisConfig struct {
	// Addr empty disables the Redis event bridge.
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

type AuthConfig struct {
	// PublicKeyFile points at the hosted auth provider's RS256 public key.
	PublicKeyFile string `yaml:"public_key_file" env:"AUTH_JWT_PUBLIC_KEY_FILE"`
	// PublicKeyPEM carries the key inline; takes precedence over the file.
	PublicKeyPEM string `yaml:"public_key_pem" env:"AUTH_JWT_PUBLIC_KEY"`
	// Disabled skips token verification entirely. Development only.
	Disabled bool `yaml:"disabled" env:"AUTH_DISABLED"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

type BillingConfig struct {
	StripeSecretKey     string `yaml:"stripe_secret_key" env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	PlusPriceID         string `yaml:"plus_price_id" env:"STRIPE_PLUS_PRICE_ID"`
	CheckoutSuccessURL  string `yaml:"checkout_success_url" env:"BILLING_CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string `yaml:"checkout_cancel_url" env:"BILLING_CHECKOUT_CANCEL_URL"`
	PortalReturnURL     string `yaml:"portal_return_url" env:"BILLING_PORTAL_RETURN_URL"`
}

type ImpersonationConfig struct {
	TTLMinutes int `yaml:"ttl_minutes" env:"IMPERSONATION_TTL_MINUTES"`
}

type RetentionConfig struct {
	LoginHistoryDays int `yaml:"login_history_days" env:"RETENTION_LOGIN_HISTORY_DAYS"`
	LobbyGameHours   int `yaml:"lobby_game_hours" env:"RETENTION_LOBBY_GAME_HOURS"`
}

type AuditConfig struct {
	// FilePath empty disables the JSONL mirror of the audit log.
	FilePath string `yaml:"file_path" env:"AUDIT_LOG_FILE"`
	RingSize int    `yaml:"ring_size" env:"AUDIT_RING_SIZE"`
}

// Default returns the configuration used when neither file nor environment
// override a setting.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrationsDir:   "migrations",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Impersonation: ImpersonationConfig{TTLMinutes: 30},
		Retention: RetentionConfig{
			LoginHistoryDays: 90,
			LobbyGameHours:   24,
		},
		Audit: AuditConfig{RingSize: 200},
	}
}

// Load reads configuration from the path in REVIEWGAME_CONFIG (if set) and
// applies environment overrides.
func Load() (*Config, error) {
	return LoadFromPath(os.Getenv("REVIEWGAME_CONFIG"))
}

// LoadFromPath reads configuration from a specific YAML file. An empty path
// skips the file layer.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	switch strings.ToLower(c.Database.Driver) {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if !c.Auth.Disabled && c.Auth.PublicKeyFile == "" && c.Auth.PublicKeyPEM == "" {
		return fmt.Errorf("auth public key is required unless auth is disabled")
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests_per_second must be positive")
	}
	if c.Impersonation.TTLMinutes <= 0 {
		return fmt.Errorf("impersonation ttl_minutes must be positive")
	}
	return nil
}

// PublicKeyBytes resolves the configured auth public key material.
func (c *Config) PublicKeyBytes() ([]byte, error) {
	if c.Auth.PublicKeyPEM != "" {
		return []byte(c.Auth.PublicKeyPEM), nil
	}
	if c.Auth.PublicKeyFile != "" {
		data, err := os.ReadFile(filepath.Clean(c.Auth.PublicKeyFile))
		if err != nil {
			return nil, fmt.Errorf("read auth public key: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("no auth public key configured")
}
