package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigIncomplete is returned by Validate when required settings are missing.
var ErrConfigIncomplete = errors.New("configuration incomplete")

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Session    SessionConfig    `yaml:"session"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Encryption EncryptionConfig `yaml:"encryption"`
	CRM        CRMConfig        `yaml:"crm"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Redis      RedisConfig      `yaml:"redis"`
	Sentry     SentryConfig     `yaml:"sentry"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// JWTConfig configures the application's own session tokens.
// Expiry values accept Go durations plus a "d" suffix, e.g. "7d".
type JWTConfig struct {
	Secret        string `yaml:"secret"`
	AccessExpire  string `yaml:"access_expire"`
	RefreshExpire string `yaml:"refresh_expire"`
}

type SessionConfig struct {
	MaxRefreshTokens int    `yaml:"max_refresh_tokens"`
	RefreshTokenTTL  string `yaml:"refresh_token_ttl"`
}

type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	Scopes       string `yaml:"scopes"`
	TokenURL     string `yaml:"token_url"`
	AuthorizeURL string `yaml:"authorize_url"`
}

type EncryptionConfig struct {
	Key string `yaml:"key"`
}

type CRMConfig struct {
	BaseURL           string   `yaml:"base_url"`
	Timeout           string   `yaml:"timeout"`
	ContactProperties []string `yaml:"contact_properties"`
}

type WebhookConfig struct {
	DownstreamURL  string `yaml:"downstream_url"`
	Timeout        string `yaml:"timeout"`
	FieldAProperty string `yaml:"field_a_property"`
	FieldBProperty string `yaml:"field_b_property"`
	FieldAKey      string `yaml:"field_a_key"`
	FieldBKey      string `yaml:"field_b_key"`
}

// RedisConfig for optional async webhook dispatch
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// ValidationError lists every missing or malformed setting.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, ", "))
	}
	return ErrConfigIncomplete.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Unwrap() error { return ErrConfigIncomplete }

// Load reads configPath (default config.yaml) when present, then applies
// .env and process environment overrides. The result is not validated.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	// .env is optional; real environment variables take precedence over it.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.overrideFromEnv()
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "3000",
			Mode: "release",
		},
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		JWT: JWTConfig{
			AccessExpire:  "7d",
			RefreshExpire: "30d",
		},
		Session: SessionConfig{
			MaxRefreshTokens: 5,
			RefreshTokenTTL:  "30d",
		},
		OAuth: OAuthConfig{
			TokenURL:     "https://api.hubapi.com/oauth/v1/token",
			AuthorizeURL: "https://app.hubspot.com/oauth/authorize",
		},
		CRM: CRMConfig{
			BaseURL:           "https://api.hubapi.com",
			Timeout:           "10s",
			ContactProperties: []string{"email", "candidate_name", "candidate_number"},
		},
		Webhook: WebhookConfig{
			Timeout:        "10s",
			FieldAProperty: "candidate_name",
			FieldBProperty: "candidate_number",
			FieldAKey:      "field_a",
			FieldBKey:      "field_b",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
	}
}

func (c *Config) overrideFromEnv() {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.Server.Host, "SERVER_HOST")
	setString(&c.Server.Port, "PORT", "SERVER_PORT")
	setString(&c.Server.Mode, "SERVER_MODE", "GIN_MODE")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.DSN, "DB_DSN", "DATABASE_URL")
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.JWT.AccessExpire, "JWT_EXPIRES_IN")
	setString(&c.JWT.RefreshExpire, "JWT_REFRESH_EXPIRES_IN")
	setString(&c.OAuth.ClientID, "CLIENT_ID")
	setString(&c.OAuth.ClientSecret, "CLIENT_SECRET")
	setString(&c.OAuth.RedirectURI, "REDIRECT_URI")
	setString(&c.OAuth.Scopes, "SCOPES")
	setString(&c.OAuth.TokenURL, "TOKEN_URL")
	setString(&c.OAuth.AuthorizeURL, "AUTHORIZE_URL")
	setString(&c.Encryption.Key, "ENCRYPTION_KEY")
	setString(&c.CRM.BaseURL, "HUBSPOT_BASE")
	setString(&c.Webhook.DownstreamURL, "WEBHOOK_URL")
	setString(&c.Sentry.DSN, "SENTRY_DSN")
	setString(&c.Sentry.Environment, "SENTRY_ENVIRONMENT")

	if v := os.Getenv("MAX_REFRESH_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxRefreshTokens = n
		}
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

// Validate checks every setting the service cannot start without.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	required := []struct {
		key   string
		value string
	}{
		{"oauth.client_id", c.OAuth.ClientID},
		{"oauth.client_secret", c.OAuth.ClientSecret},
		{"oauth.redirect_uri", c.OAuth.RedirectURI},
		{"oauth.scopes", c.OAuth.Scopes},
		{"oauth.token_url", c.OAuth.TokenURL},
		{"oauth.authorize_url", c.OAuth.AuthorizeURL},
		{"encryption.key", c.Encryption.Key},
		{"jwt.secret", c.JWT.Secret},
		{"jwt.access_expire", c.JWT.AccessExpire},
		{"jwt.refresh_expire", c.JWT.RefreshExpire},
		{"crm.base_url", c.CRM.BaseURL},
		{"webhook.downstream_url", c.Webhook.DownstreamURL},
		{"database.driver", c.Database.Driver},
		{"database.dsn", c.Database.DSN},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			verr.Missing = append(verr.Missing, r.key)
		}
	}

	durations := []struct {
		key   string
		value string
	}{
		{"jwt.access_expire", c.JWT.AccessExpire},
		{"jwt.refresh_expire", c.JWT.RefreshExpire},
		{"session.refresh_token_ttl", c.Session.RefreshTokenTTL},
		{"crm.timeout", c.CRM.Timeout},
		{"webhook.timeout", c.Webhook.Timeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if v, err := ParseDuration(d.value); err != nil || v <= 0 {
			verr.Invalid = append(verr.Invalid, d.key)
		}
	}

	if c.Session.MaxRefreshTokens <= 0 {
		verr.Invalid = append(verr.Invalid, "session.max_refresh_tokens")
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return verr
	}
	return nil
}

// ParseDuration extends time.ParseDuration with a whole-day "d" unit.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// MustDuration parses a duration already checked by Validate, falling back
// to def when the value is empty.
func MustDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *JWTConfig) AccessTTL() time.Duration {
	return MustDuration(c.AccessExpire, 7*24*time.Hour)
}

func (c *JWTConfig) RefreshTTL() time.Duration {
	return MustDuration(c.RefreshExpire, 30*24*time.Hour)
}

func (c *SessionConfig) TokenTTL() time.Duration {
	return MustDuration(c.RefreshTokenTTL, 30*24*time.Hour)
}

func (c *CRMConfig) HTTPTimeout() time.Duration {
	return MustDuration(c.Timeout, 10*time.Second)
}

func (c *WebhookConfig) HTTPTimeout() time.Duration {
	return MustDuration(c.Timeout, 10*time.Second)
}
