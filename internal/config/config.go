// Package config loads FlowDesk configuration from the environment.
//
// Provider credentials come in two sets: the production set uses unprefixed
// variables and the test set uses TEST_-prefixed ones. APP_ENV selects which
// set is active.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/scheduler"
	"github.com/caarlos0/env/v11"
)

// Environment modes accepted in APP_ENV.
const (
	EnvProduction = "production"
	EnvTest       = "test"
)

// Messaging backends accepted in MESSAGING_BACKEND.
const (
	MessagingCloud  = "cloud"
	MessagingTwilio = "twilio"
	MessagingLinked = "linked"
)

// DefaultStateDir is the default directory for FlowDesk state data.
const DefaultStateDir = "/var/lib/flowdesk"

// DefaultDBFileName is the SQLite session database file inside the state directory.
const DefaultDBFileName = "flowdesk.db"

// Credentials are the provider secrets that differ between production and test.
type Credentials struct {
	WPAccessToken      string `env:"WP_ACCESS_TOKEN"`
	WPPhoneID          string `env:"WP_PHONE_ID"`
	WPAppSecret        string `env:"WP_APP_SECRET"`
	WebhookVerifyToken string `env:"WEBHOOK_VERIFY_TOKEN"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_FROM_NUMBER"`
	TwilioWebhookURL string `env:"TWILIO_WEBHOOK_URL"`

	AirtableAPIKey string `env:"AIRTABLE_API_KEY"`
	AirtableBaseID string `env:"AIRTABLE_BASE_ID"`
	AirtableTable  string `env:"AIRTABLE_TABLE" envDefault:"Registrations"`
}

// Config holds environment configuration.
type Config struct {
	AppEnv     string      `env:"APP_ENV" envDefault:"production"`
	Production Credentials
	Test       Credentials `envPrefix:"TEST_"`

	APIVersion       string `env:"API_VERSION" envDefault:"v21.0"`
	WPBaseURL        string `env:"WP_BASE_URL" envDefault:"https://graph.facebook.com/"`
	MessagingBackend string `env:"MESSAGING_BACKEND" envDefault:"cloud"`
	WhatsAppDBDSN    string `env:"WHATSAPP_DB_DSN"`

	AIProvider         string        `env:"AI_PROVIDER" envDefault:"openai"`
	OpenAIKey          string        `env:"OPENAI_API_KEY"`
	GeminiKey          string        `env:"GEMINI_API_KEY"`
	AnthropicKey       string        `env:"ANTHROPIC_API_KEY"`
	AIModel            string        `env:"AI_MODEL"`
	AISystemPromptFile string        `env:"AI_SYSTEM_PROMPT_FILE"`
	AIHistoryCap       int           `env:"AI_HISTORY_CAP" envDefault:"20"`
	AITimeout          time.Duration `env:"AI_TIMEOUT" envDefault:"30s"`

	AirtableBaseURL string `env:"AIRTABLE_BASE_URL"`

	SessionStore  string        `env:"SESSION_STORE"`
	RedisURL      string        `env:"REDIS_URL"`
	RedisHost     string        `env:"REDIS_HOST"`
	RedisPort     int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	StateDir      string        `env:"FLOWDESK_STATE_DIR" envDefault:"/var/lib/flowdesk"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"10m"`
	SweepSchedule string        `env:"SESSION_SWEEP_SCHEDULE"`
	LockTimeout   time.Duration `env:"SESSION_LOCK_TIMEOUT" envDefault:"10s"`
	LockLease     time.Duration `env:"SESSION_LOCK_LEASE" envDefault:"30s"`
	DedupEnabled  bool          `env:"DEDUP_ENABLED" envDefault:"false"`

	APIAddr   string `env:"API_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment into a Config. It does not validate; flags may
// still override values before Validate is called.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.MessagingBackend = strings.ToLower(strings.TrimSpace(c.MessagingBackend))
	c.AIProvider = strings.ToLower(strings.TrimSpace(c.AIProvider))
	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// IsTest reports whether the test credential set is active.
func (c *Config) IsTest() bool {
	return c.AppEnv == EnvTest
}

// Active returns the credential set selected by APP_ENV.
func (c *Config) Active() Credentials {
	if c.IsTest() {
		return c.Test
	}
	return c.Production
}

// RedisAddr returns host:port when REDIS_HOST is set.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// SQLitePath returns the default session database path inside the state directory.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// SweepExpr returns the sweep schedule: SESSION_SWEEP_SCHEDULE when set,
// otherwise every SESSION_SWEEP_INTERVAL.
func (c *Config) SweepExpr() string {
	if c.SweepSchedule != "" {
		return c.SweepSchedule
	}
	return scheduler.EveryExpr(c.SweepInterval)
}

// AIKey returns the API key of the selected AI provider.
func (c *Config) AIKey() string {
	switch c.AIProvider {
	case "gemini":
		return c.GeminiKey
	case "anthropic":
		return c.AnthropicKey
	default:
		return c.OpenAIKey
	}
}

// Validate rejects unknown enum values and missing credentials for the selected backends.
func (c *Config) Validate() error {
	var errs []error
	switch c.AppEnv {
	case EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvProduction, EnvTest, c.AppEnv))
	}

	creds := c.Active()
	prefix := ""
	if c.IsTest() {
		prefix = "TEST_"
	}
	require := func(value, name string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s%s is required for MESSAGING_BACKEND=%s", prefix, name, c.MessagingBackend))
		}
	}
	switch c.MessagingBackend {
	case MessagingCloud:
		require(creds.WPAccessToken, "WP_ACCESS_TOKEN")
		require(creds.WPPhoneID, "WP_PHONE_ID")
		require(creds.WebhookVerifyToken, "WEBHOOK_VERIFY_TOKEN")
		if c.APIVersion == "" {
			errs = append(errs, errors.New("API_VERSION cannot be empty"))
		}
	case MessagingTwilio:
		require(creds.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
		require(creds.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
		require(creds.TwilioFromNumber, "TWILIO_FROM_NUMBER")
	case MessagingLinked:
	default:
		errs = append(errs, fmt.Errorf("MESSAGING_BACKEND must be cloud, twilio or linked, got %q", c.MessagingBackend))
	}

	switch c.AIProvider {
	case "openai", "gemini", "anthropic":
		if c.AIKey() == "" {
			errs = append(errs, fmt.Errorf("an API key is required for AI_PROVIDER=%s", c.AIProvider))
		}
	default:
		errs = append(errs, fmt.Errorf("AI_PROVIDER must be openai, gemini or anthropic, got %q", c.AIProvider))
	}
	if c.AIHistoryCap < 2 || c.AIHistoryCap%2 != 0 {
		errs = append(errs, fmt.Errorf("AI_HISTORY_CAP must be an even number >= 2, got %d", c.AIHistoryCap))
	}
	if c.AITimeout <= 0 {
		errs = append(errs, fmt.Errorf("AI_TIMEOUT must be positive, got %s", c.AITimeout))
	}

	if (creds.AirtableAPIKey == "") != (creds.AirtableBaseID == "") {
		errs = append(errs, fmt.Errorf("%sAIRTABLE_API_KEY and %sAIRTABLE_BASE_ID must be set together", prefix, prefix))
	}

	switch c.SessionStore {
	case "", "memory", "sqlite", "postgres":
	case "redis":
		if c.RedisURL == "" && c.RedisHost == "" {
			errs = append(errs, errors.New("REDIS_URL or REDIS_HOST is required for SESSION_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE must be redis, sqlite, postgres or memory, got %q", c.SessionStore))
	}
	if c.SessionStore == "postgres" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for SESSION_STORE=postgres"))
	}
	if c.SweepSchedule == "" && c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval))
	} else if err := scheduler.Validate(c.SweepExpr()); err != nil {
		errs = append(errs, fmt.Errorf("SESSION_SWEEP_SCHEDULE: %w", err))
	}
	if c.LockLease <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_LOCK_LEASE must be positive, got %s", c.LockLease))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL cannot be negative, got %s", c.SessionTTL))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.APIAddr == "" {
		errs = append(errs, errors.New("API_ADDR cannot be empty"))
	}
	return errors.Join(errs...)
}
