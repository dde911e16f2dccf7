package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// AppURL is the storefront origin used to build checkout redirect URLs.
	AppURL string

	// Environment is "development" or "production". Development enables console logging.
	Environment string

	// LogLevel is a zerolog level name. Defaults to "info".
	LogLevel string

	// ExternalAPITimeout bounds every outbound Stripe and PayPal call.
	ExternalAPITimeout time.Duration

	// JWTSecret validates buyer session tokens (HS256).
	JWTSecret string

	// IngestHMACSecret authenticates the content ingestion endpoint.
	IngestHMACSecret string

	Stripe   StripeConfig
	PayPal   PayPalConfig
	Download DownloadConfig
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
}

// PayPalConfig holds PayPal REST credentials.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	// Mode is "sandbox" or "live".
	Mode      string
	WebhookID string
}

// DownloadConfig locates the bucket that stores product files.
type DownloadConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	URLTTL          time.Duration
}

const (
	defaultServerAddress      = ":18111"
	defaultAppURL             = "http://localhost:3000"
	defaultEnvironment        = "production"
	defaultLogLevel           = "info"
	defaultExternalAPITimeout = 10 * time.Second
	defaultWebhookTolerance   = 300 * time.Second
	defaultPayPalMode         = "sandbox"
	defaultDownloadURLTTL     = 5 * time.Minute

	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envAppURL              = "APP_URL"
	envEnvironment         = "APP_ENV"
	envLogLevel            = "LOG_LEVEL"
	envExternalAPITimeout  = "EXTERNAL_API_TIMEOUT"
	envJWTSecret           = "SUPABASE_JWT_SECRET"
	envIngestHMACSecret    = "INGEST_HMAC_SECRET"
	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envStripeTolerance     = "STRIPE_WEBHOOK_TOLERANCE"
	envPayPalClientID      = "PAYPAL_CLIENT_ID"
	envPayPalClientSecret  = "PAYPAL_CLIENT_SECRET"
	envPayPalMode          = "PAYPAL_MODE"
	envPayPalWebhookID     = "PAYPAL_WEBHOOK_ID"
	envDownloadBucket      = "DOWNLOAD_BUCKET"
	envDownloadRegion      = "DOWNLOAD_REGION"
	envDownloadEndpoint    = "DOWNLOAD_ENDPOINT"
	envDownloadAccessKeyID = "DOWNLOAD_ACCESS_KEY_ID"
	envDownloadSecretKey   = "DOWNLOAD_SECRET_ACCESS_KEY"
	envDownloadURLTTL      = "DOWNLOAD_URL_TTL"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing. Provider
// secrets are optional; endpoints that need a missing secret refuse requests.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:    firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:      strings.TrimSpace(os.Getenv(envDatabaseURL)),
		AppURL:           strings.TrimRight(firstNonEmpty(os.Getenv(envAppURL), defaultAppURL), "/"),
		Environment:      strings.ToLower(firstNonEmpty(os.Getenv(envEnvironment), defaultEnvironment)),
		LogLevel:         strings.ToLower(firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel)),
		JWTSecret:        os.Getenv(envJWTSecret),
		IngestHMACSecret: os.Getenv(envIngestHMACSecret),
		Stripe: StripeConfig{
			SecretKey:     os.Getenv(envStripeSecretKey),
			WebhookSecret: os.Getenv(envStripeWebhookSecret),
		},
		PayPal: PayPalConfig{
			ClientID:     os.Getenv(envPayPalClientID),
			ClientSecret: os.Getenv(envPayPalClientSecret),
			Mode:         strings.ToLower(firstNonEmpty(os.Getenv(envPayPalMode), defaultPayPalMode)),
			WebhookID:    os.Getenv(envPayPalWebhookID),
		},
		Download: DownloadConfig{
			Bucket:          os.Getenv(envDownloadBucket),
			Region:          os.Getenv(envDownloadRegion),
			Endpoint:        os.Getenv(envDownloadEndpoint),
			AccessKeyID:     os.Getenv(envDownloadAccessKeyID),
			SecretAccessKey: os.Getenv(envDownloadSecretKey),
		},
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}

	if cfg.PayPal.Mode != "sandbox" && cfg.PayPal.Mode != "live" {
		return Config{}, fmt.Errorf("invalid %s %q: want sandbox or live", envPayPalMode, cfg.PayPal.Mode)
	}

	var err error
	if cfg.ExternalAPITimeout, err = durationEnv(envExternalAPITimeout, defaultExternalAPITimeout); err != nil {
		return Config{}, err
	}
	if cfg.Download.URLTTL, err = durationEnv(envDownloadURLTTL, defaultDownloadURLTTL); err != nil {
		return Config{}, err
	}
	if cfg.Stripe.WebhookTolerance, err = secondsEnv(envStripeTolerance, defaultWebhookTolerance); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// durationEnv parses a Go duration such as "10s".
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", key, raw)
	}
	return d, nil
}

// secondsEnv parses a whole number of seconds.
func secondsEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive number of seconds", key, raw)
	}
	return time.Duration(n) * time.Second, nil
}
