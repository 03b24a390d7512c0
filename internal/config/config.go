// Package config loads application settings from the environment.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvProduction  = "production"
)

// Mail drivers.
const (
	MailDriverLog      = "log"
	MailDriverPostmark = "postmark"
)

// devSecret is only used outside production when SECRET_KEY is unset.
const devSecret = "dev-secret-change-me"

var (
	ErrMissingSecret  = errors.New("SECRET_KEY is required in production")
	ErrInvalidEnv     = errors.New("APP_ENV must be development, testing or production")
	ErrInvalidMailer  = errors.New("MAIL_DRIVER must be log or postmark")
	ErrInvalidOrigins = errors.New("ALLOWED_ORIGINS contains an invalid pattern")
)

type Config struct {
	AppName  string `env:"APP_NAME" envDefault:"Todo"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Secret   string `env:"SECRET_KEY"`
	BaseURL  string `env:"BASE_URL" envDefault:"http://localhost:8431"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	// AllowedOrigins are regular expressions matched against the whole Origin header.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	TokenLeeway         time.Duration `env:"TOKEN_LEEWAY" envDefault:"0s"`
	ConfirmTokenTTL     time.Duration `env:"CONFIRM_TOKEN_TTL" envDefault:"168h"`
	ResetTokenTTL       time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	ChangeEmailTokenTTL time.Duration `env:"CHANGE_EMAIL_TOKEN_TTL" envDefault:"1h"`
	AccessTokenTTL      time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL     time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	MaxFailedLogins int `env:"MAX_FAILED_LOGINS" envDefault:"6"`
	LockMinutes     int `env:"LOCK_MINUTES" envDefault:"15"`
	BcryptCost      int `env:"BCRYPT_COST" envDefault:"12"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	MailDriver           string `env:"MAIL_DRIVER" envDefault:"log"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"noreply@example.com"`
	SupportEmail         string `env:"SUPPORT_EMAIL"`

	RedisURL           string        `env:"REDIS_URL"`
	RedisRetryAttempts int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RedisRetryInterval time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	NotifyQueueKey     string        `env:"NOTIFY_QUEUE_KEY" envDefault:"todo:emails"`
	NotifyQueueSize    int           `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`
	NotifyWorkers      int           `env:"NOTIFY_WORKERS" envDefault:"2"`
	NotifyMaxAttempts  int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"3"`
	NotifyRetryDelay   time.Duration `env:"NOTIFY_RETRY_DELAY" envDefault:"2s"`

	SnowflakeNode   int64         `env:"SNOWFLAKE_NODE" envDefault:"1"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Warnings collects non-fatal problems found by Validate for the caller to log.
	Warnings []string `env:"-"`
}

// Load reads .env when present and parses the environment.
func Load() (Config, error) {
	// best-effort: a missing .env is fine
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool { return c.AppEnv == EnvProduction }

// Validate checks the config and fills development fallbacks.
func (c *Config) Validate() error {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	if !slices.Contains([]string{EnvDevelopment, EnvTesting, EnvProduction}, c.AppEnv) {
		return ErrInvalidEnv
	}
	if c.Secret == "" {
		if c.IsProduction() {
			return ErrMissingSecret
		}
		c.Secret = devSecret
		c.Warnings = append(c.Warnings, "SECRET_KEY not set, using an insecure development secret")
	}
	switch c.MailDriver {
	case MailDriverLog, MailDriverPostmark:
	default:
		return ErrInvalidMailer
	}
	if _, err := c.OriginPatterns(); err != nil {
		return err
	}
	if c.TokenLeeway < 0 {
		c.TokenLeeway = 0
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return nil
}

// OriginPatterns compiles AllowedOrigins, anchoring each so it must match the full origin.
func (c *Config) OriginPatterns() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(c.AllowedOrigins))
	for _, p := range c.AllowedOrigins {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidOrigins, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
