package config

import (
	"errors"
	"fmt"
	"net/url"
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

	// StripeSecretKey authenticates API calls to the payment provider.
	StripeSecretKey string

	// StripeWebhookSecret verifies webhook signatures. The server refuses to
	// start without it.
	StripeWebhookSecret string

	// StripeAPIBase overrides the provider API endpoint (tests, mocks).
	StripeAPIBase string

	// PublicSiteURL is the storefront origin used for success/cancel redirects.
	PublicSiteURL string

	// AssetBaseURL is the public base URL of the object store holding
	// covers and deliverables.
	AssetBaseURL string

	// Currency is the ISO currency code charged. Defaults to "usd".
	Currency string

	// WebhookTimeout bounds synchronous webhook processing. Defaults to 8s.
	WebhookTimeout time.Duration

	// AdminToken guards /api/admin routes; empty disables them.
	AdminToken string

	// RedisURL enables the shared rate limiter when set.
	RedisURL string

	// KafkaBrokers and KafkaDeliveryTopic enable the Kafka delivery notifier.
	KafkaBrokers       []string
	KafkaDeliveryTopic string

	// RateLimitPerMinute is the per-IP request budget on public write routes.
	RateLimitPerMinute int

	// TrustProxyHeaders makes the client IP come from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites those headers,
	// otherwise clients can pick their own rate limit key.
	TrustProxyHeaders bool
}

const (
	defaultServerAddress      = ":18111"
	defaultPublicSiteURL      = "http://localhost:3000"
	defaultCurrency           = "usd"
	defaultWebhookTimeout     = 8 * time.Second
	defaultKafkaDeliveryTopic = "delivery-emails"
	defaultRateLimitPerMinute = 60

	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envStripeAPIBase       = "STRIPE_API_BASE"
	envPublicSiteURL       = "PUBLIC_SITE_URL"
	envAssetBaseURL        = "ASSET_BASE_URL"
	envCurrency            = "CURRENCY"
	envWebhookTimeout      = "WEBHOOK_TIMEOUT"
	envAdminToken          = "ADMIN_TOKEN"
	envRedisURL            = "REDIS_URL"
	envKafkaBrokers        = "KAFKA_BROKERS"
	envKafkaDeliveryTopic  = "KAFKA_DELIVERY_TOPIC"
	envRateLimitPerMinute  = "RATE_LIMIT_PER_MINUTE"
	envTrustProxyHeaders   = "TRUST_PROXY_HEADERS"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Only DATABASE_URL is required here; ValidateServer adds
// the checks the HTTP server needs.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         os.Getenv(envDatabaseURL),
		StripeSecretKey:     os.Getenv(envStripeSecretKey),
		StripeWebhookSecret: os.Getenv(envStripeWebhookSecret),
		StripeAPIBase:       os.Getenv(envStripeAPIBase),
		PublicSiteURL:       strings.TrimRight(firstNonEmpty(os.Getenv(envPublicSiteURL), defaultPublicSiteURL), "/"),
		AssetBaseURL:        os.Getenv(envAssetBaseURL),
		Currency:            strings.ToLower(firstNonEmpty(os.Getenv(envCurrency), defaultCurrency)),
		WebhookTimeout:      defaultWebhookTimeout,
		AdminToken:          os.Getenv(envAdminToken),
		RedisURL:            os.Getenv(envRedisURL),
		KafkaBrokers:        splitList(os.Getenv(envKafkaBrokers)),
		KafkaDeliveryTopic:  firstNonEmpty(os.Getenv(envKafkaDeliveryTopic), defaultKafkaDeliveryTopic),
		RateLimitPerMinute:  defaultRateLimitPerMinute,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if _, err := url.Parse(cfg.DatabaseURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envDatabaseURL, err)
	}

	if value := os.Getenv(envWebhookTimeout); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envWebhookTimeout, value)
		}
		cfg.WebhookTimeout = d
	}

	if value := os.Getenv(envRateLimitPerMinute); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envRateLimitPerMinute, value)
		}
		cfg.RateLimitPerMinute = n
	}

	if value := os.Getenv(envTrustProxyHeaders); value != "" {
		trust, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %q", envTrustProxyHeaders, value)
		}
		cfg.TrustProxyHeaders = trust
	}

	return cfg, nil
}

// ValidateServer checks the values the HTTP server cannot run without. A
// missing webhook secret is fatal so unsigned events are never accepted.
func (c Config) ValidateServer() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, fmt.Errorf("%s is required", envStripeSecretKey))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, fmt.Errorf("%s is required", envStripeWebhookSecret))
	}
	if c.AssetBaseURL == "" {
		errs = append(errs, fmt.Errorf("%s is required", envAssetBaseURL))
	}
	return errors.Join(errs...)
}

// SuccessURL is where the provider sends the buyer after payment.
func (c Config) SuccessURL() string {
	return c.PublicSiteURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is where the provider sends a buyer who abandons payment.
func (c Config) CancelURL() string {
	return c.PublicSiteURL + "/cart"
}

// DatabaseTarget describes the database for logs without credentials.
func (c Config) DatabaseTarget() string {
	parsed, err := url.Parse(c.DatabaseURL)
	if err != nil || parsed.Host == "" {
		return "(unparseable DATABASE_URL)"
	}
	user := ""
	if parsed.User != nil {
		user = parsed.User.Username() + "@"
	}
	return fmt.Sprintf("%s%s/%s", user, parsed.Host, strings.TrimPrefix(parsed.Path, "/"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
