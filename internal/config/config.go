package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	Log    LogConfig
	Stripe StripeConfig
	Token  TokenConfig
	SMTP   SMTPConfig
	Pass   PassConfig
	Code   CodeConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"redemption_db"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// StripeConfig holds the webhook endpoint secret used to verify event
// signatures.
type StripeConfig struct {
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// TokenConfig holds the download credential signing configuration.
type TokenConfig struct {
	SigningKey string `envconfig:"TOKEN_SIGNING_KEY"`
	TTLSeconds int    `envconfig:"TOKEN_TTL_SECONDS" default:"60"`
}

// SMTPConfig holds mail relay configuration. Leaving Host empty disables
// email delivery; codes are then only logged.
type SMTPConfig struct {
	Host string `envconfig:"SMTP_HOST"`
	Port int    `envconfig:"SMTP_PORT" default:"587"`
	User string `envconfig:"SMTP_USER"`
	Pass string `envconfig:"SMTP_PASS"`
	From string `envconfig:"SMTP_FROM"`
}

// Enabled reports whether enough SMTP configuration is present to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// PassConfig holds pkpass signing material and identity.
type PassConfig struct {
	CertPath    string `envconfig:"PASS_CERT_PATH"`
	KeyPath     string `envconfig:"PASS_KEY_PATH"`
	AssetDir    string `envconfig:"PASS_ASSET_DIR" default:"assets/pass"`
	OrgName     string `envconfig:"PASS_ORG_NAME" default:"Passlane"`
	PassTypeID  string `envconfig:"PASS_TYPE_ID"`
	TeamID      string `envconfig:"PASS_TEAM_ID"`
	Description string `envconfig:"PASS_DESCRIPTION" default:"Membership pass"`
}

// CodeConfig tunes redemption code issuance.
type CodeConfig struct {
	Length   int `envconfig:"CODE_LENGTH" default:"6"`
	TTLHours int `envconfig:"CODE_TTL_HOURS" default:"0"` // 0 = codes never expire
}

// Load parses environment variables into the Config struct and validates
// required secrets.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on missing secrets. Discovering a missing signing key
// on the first redemption instead of at startup is exactly the failure mode
// this guards against.
func (c *Config) Validate() error {
	if c.Stripe.WebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.Token.SigningKey == "" {
		return errors.New("TOKEN_SIGNING_KEY is required")
	}
	if c.Pass.CertPath == "" || c.Pass.KeyPath == "" {
		return errors.New("PASS_CERT_PATH and PASS_KEY_PATH are required")
	}
	if c.Pass.PassTypeID == "" || c.Pass.TeamID == "" {
		return errors.New("PASS_TYPE_ID and PASS_TEAM_ID are required")
	}
	return nil
}
