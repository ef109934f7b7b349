package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"

	domainBilling "github.com/billsync/backend/internal/domain/billing"
)

// StripeConfig holds configuration for the Stripe client
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx).
	// An empty key leaves the client unconfigured.
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`

	// IsTestMode indicates if using Stripe test mode
	IsTestMode bool `json:"is_test_mode" mapstructure:"is_test_mode"`

	// DefaultCurrency is used for prices created without an explicit currency
	DefaultCurrency string `json:"default_currency" mapstructure:"default_currency"`

	// ProrationBehavior is applied when a subscription changes price
	ProrationBehavior string `json:"proration_behavior" mapstructure:"proration_behavior"`

	// MaxNetworkRetries is passed to the stripe-go backend. Zero disables retries.
	MaxNetworkRetries int64 `json:"max_network_retries" mapstructure:"max_network_retries"`

	// RateLimit is the client-side request budget per second. Zero disables limiting.
	RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `json:"rate_burst" mapstructure:"rate_burst"`

	// Breaker opens after BreakerFailures consecutive server-side failures
	// and stays open for BreakerTimeout.
	BreakerFailures uint32        `json:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `json:"breaker_timeout" mapstructure:"breaker_timeout"`

	// CacheTTL is how long remote reads are cached. Zero disables caching.
	CacheTTL time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
}

// DefaultStripeConfig returns a default configuration for development/testing
func DefaultStripeConfig() *StripeConfig {
	return &StripeConfig{
		IsTestMode:        true,
		DefaultCurrency:   "usd",
		ProrationBehavior: string(domainBilling.ProrationCreateProrations),
		MaxNetworkRetries: 2,
		RateLimit:         25,
		RateBurst:         5,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
		CacheTTL:          5 * time.Minute,
	}
}

// Configured reports whether a secret key is present
func (c *StripeConfig) Configured() bool {
	return c != nil && c.SecretKey != ""
}

// Validate validates the Stripe configuration. A missing key is not an
// error here; operations report ErrRemoteNotConfigured instead.
func (c *StripeConfig) Validate() error {
	if c.SecretKey != "" {
		if c.IsTestMode && !strings.HasPrefix(c.SecretKey, "sk_test") {
			return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
		}
		if !c.IsTestMode && !strings.HasPrefix(c.SecretKey, "sk_live") {
			return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
		}
	}

	if c.DefaultCurrency == "" {
		return fmt.Errorf("stripe: default currency is required")
	}

	if !domainBilling.ProrationBehavior(c.ProrationBehavior).IsValid() {
		return fmt.Errorf("stripe: invalid proration behavior: %q", c.ProrationBehavior)
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("stripe: rate limit must not be negative")
	}

	return nil
}

// Proration returns the configured proration behavior
func (c *StripeConfig) Proration() domainBilling.ProrationBehavior {
	return domainBilling.ProrationBehavior(c.ProrationBehavior)
}

// backendConfig returns the stripe-go backend configuration
func (c *StripeConfig) backendConfig() *stripe.BackendConfig {
	return &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(c.MaxNetworkRetries),
	}
}
