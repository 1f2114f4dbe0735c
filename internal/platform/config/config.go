package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// Defaults that individual deployments rarely override.
var (
	DefaultRefreshSkew        = 10 * time.Minute
	DefaultRefreshTokenMaxAge = 50 * 24 * time.Hour // Xero expires refresh tokens at 60 days
	DefaultWebhookMaxBytes    = int64(1 << 20)      // 1 MiB
	DefaultWorkerPollInterval = 5 * time.Second
	DefaultProactiveInterval  = 15 * time.Minute
)

// DefaultScopes is the scope set requested on every authorization.
// offline_access is mandatory: without it Xero issues no refresh token.
var DefaultScopes = []string{
	"offline_access",
	"accounting.transactions",
	"accounting.contacts",
	"accounting.settings",
}

// Server captures process-level configuration sourced from the environment.
type Server struct {
	Addr        string
	DatabaseURL string
	RedisURL    string

	XeroClientID     string
	XeroClientSecret string
	XeroRedirectURI  string
	XeroScopes       []string

	WebhookSigningKey     string
	TokenEncryptionSecret string

	RefreshSkew        time.Duration
	RefreshTokenMaxAge time.Duration
	WebhookMaxBytes    int64
	WorkerPollInterval time.Duration
	ProactiveInterval  time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:                  envOr("LEDGERBRIDGE_ADDR", ":8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		XeroClientID:          os.Getenv("XERO_CLIENT_ID"),
		XeroClientSecret:      os.Getenv("XERO_CLIENT_SECRET"),
		XeroRedirectURI:       os.Getenv("XERO_REDIRECT_URI"),
		XeroScopes:            DefaultScopes,
		WebhookSigningKey:     os.Getenv("XERO_WEBHOOK_KEY"),
		TokenEncryptionSecret: os.Getenv("TOKEN_ENCRYPTION_SECRET"),
		RefreshSkew:           DefaultRefreshSkew,
		RefreshTokenMaxAge:    DefaultRefreshTokenMaxAge,
		WebhookMaxBytes:       DefaultWebhookMaxBytes,
		WorkerPollInterval:    DefaultWorkerPollInterval,
		ProactiveInterval:     DefaultProactiveInterval,
	}

	if scopes := os.Getenv("XERO_SCOPES"); scopes != "" {
		cfg.XeroScopes = strings.Fields(scopes)
	}
	if d, err := time.ParseDuration(os.Getenv("TOKEN_REFRESH_SKEW")); err == nil && d > 0 {
		cfg.RefreshSkew = d
	}
	if d, err := time.ParseDuration(os.Getenv("REFRESH_TOKEN_MAX_AGE")); err == nil && d > 0 {
		cfg.RefreshTokenMaxAge = d
	}
	if d, err := time.ParseDuration(os.Getenv("SYNC_POLL_INTERVAL")); err == nil && d > 0 {
		cfg.WorkerPollInterval = d
	}
	if d, err := time.ParseDuration(os.Getenv("PROACTIVE_REFRESH_INTERVAL")); err == nil && d > 0 {
		cfg.ProactiveInterval = d
	}

	return cfg
}

// Validate reports every missing required secret at once so operators fix a
// deployment in one pass. Absence of any security-relevant value is fatal at
// startup, never a silent downgrade.
func (c Server) Validate() error {
	var missing []string
	if c.XeroClientID == "" {
		missing = append(missing, "XERO_CLIENT_ID")
	}
	if c.XeroClientSecret == "" {
		missing = append(missing, "XERO_CLIENT_SECRET")
	}
	if c.XeroRedirectURI == "" {
		missing = append(missing, "XERO_REDIRECT_URI")
	}
	if c.WebhookSigningKey == "" {
		missing = append(missing, "XERO_WEBHOOK_KEY")
	}
	if c.TokenEncryptionSecret == "" {
		missing = append(missing, "TOKEN_ENCRYPTION_SECRET")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
