package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// Gateway modes.
const (
	GatewaySandbox = "sandbox"
	GatewayLive    = "live"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `default:"redis://localhost:6379/0" usage:"Redis URL for checkout attempts (CHECKOUT_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (CHECKOUT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Kafka        KafkaConfig
	Gateway      GatewayConfig
	Pricing      PricingConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// KafkaConfig controls reconciliation event publishing. Publishing is off
// when no brokers are set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"checkout-events" usage:"Topic for payment events"`
}

// GatewayConfig selects and configures the payment gateway.
type GatewayConfig struct {
	Mode      string        `default:"sandbox" usage:"Gateway mode: sandbox or live"`
	BaseURL   string        `usage:"Live gateway API base URL" flag:"gateway-url"`
	KeyID     string        `usage:"Gateway key id, also shown to the client"`
	KeySecret string        `usage:"Gateway key secret, signs payment callbacks"`
	Timeout   time.Duration `default:"10s" usage:"Gateway request timeout"`
}

// PricingConfig holds the delivery fee schedule as decimal strings.
type PricingConfig struct {
	DeliveryFee           string `default:"40" usage:"Delivery fee charged below the free delivery threshold"`
	FreeDeliveryThreshold string `default:"1000" usage:"Order amount from which delivery is free"`
}

// Fees parses the fee schedule.
func (c PricingConfig) Fees() (pricing.FeeSchedule, error) {
	fee, err := decimal.NewFromString(c.DeliveryFee)
	if err != nil {
		return pricing.FeeSchedule{}, errors.Wrap(err, "parse delivery fee")
	}
	threshold, err := decimal.NewFromString(c.FreeDeliveryThreshold)
	if err != nil {
		return pricing.FeeSchedule{}, errors.Wrap(err, "parse free delivery threshold")
	}
	if fee.IsNegative() || threshold.IsNegative() {
		return pricing.FeeSchedule{}, errors.New("fees must not be negative")
	}
	return pricing.FeeSchedule{DeliveryFee: fee, FreeDeliveryThreshold: threshold}, nil
}

// CheckoutConfig controls attempt assembly, slots and payment sessions.
type CheckoutConfig struct {
	MinOnlineAmount  string        `default:"1.00" usage:"Smallest total the gateway accepts"`
	SlotBuffer       time.Duration `default:"30m" usage:"Lead time before a slot window starts"`
	HorizonDays      int           `default:"7" usage:"Number of bookable days"`
	Timezone         string        `default:"Asia/Kolkata" usage:"Store timezone for slot windows"`
	StoreLatitude    float64       `default:"12.9716" usage:"Store latitude"`
	StoreLongitude   float64       `default:"77.5946" usage:"Store longitude"`
	DeliveryRadiusKM float64       `default:"10" usage:"Delivery radius around the store" flag:"delivery-radius-km"`
	AttemptTTL       time.Duration `default:"2h" usage:"How long an unpaid attempt is kept"`
	SessionTTL       time.Duration `default:"1h" usage:"Idle time after which payment sessions are swept"`
	SweepInterval    time.Duration `default:"5m" usage:"Payment session sweep interval"`
}

// MinOnline parses MinOnlineAmount.
func (c CheckoutConfig) MinOnline() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.MinOnlineAmount)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse min online amount")
	}
	return d, nil
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if c.RedisURL == "" {
		return errors.New("redis URL is required: set CHECKOUT_REDIS_URL or REDIS_URL")
	}
	if _, err := c.Pricing.Fees(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	if _, err := c.Checkout.MinOnline(); err != nil {
		return errors.Wrap(err, "checkout")
	}
	if _, err := time.LoadLocation(c.Checkout.Timezone); err != nil {
		return errors.Wrap(err, "checkout timezone")
	}
	switch c.Gateway.Mode {
	case GatewaySandbox:
	case GatewayLive:
		if c.Gateway.BaseURL == "" || c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" {
			return errors.New("live gateway needs base URL, key id and key secret")
		}
	default:
		return errors.Errorf("unknown gateway mode %q", c.Gateway.Mode)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && os.Getenv("CHECKOUT_REDIS_URL") == "" {
		c.RedisURL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
