package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Kafka        KafkaConfig
	Loyalty      LoyaltyConfig
	Invoice      InvoiceConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig points at the catalog stock cache. Empty Addr disables it.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address for the catalog stock cache (host:port)"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	LevelTTL time.Duration `default:"24h" usage:"Expiry of cached stock levels" flag:"redis-level-ttl"`
}

// KafkaConfig controls event publication. No brokers disables it.
type KafkaConfig struct {
	Brokers  []string `usage:"Kafka bootstrap brokers"`
	ClientID string   `default:"webshop-saga" usage:"Producer name stamped on event envelopes" flag:"kafka-client-id"`
	Buffer   int      `default:"1024" usage:"Events queued before publishing fails fast"`
}

// LoyaltyConfig controls the bonus rules and point valuation.
type LoyaltyConfig struct {
	ForceJanuaryBonus bool `default:"false" usage:"Apply the January multiplier all year" flag:"force-january-bonus"`
	PointsPerEuro     int  `default:"10" usage:"Points worth one euro on redemption" flag:"points-per-euro"`
}

// InvoiceConfig controls invoices raised on confirm.
type InvoiceConfig struct {
	Term        time.Duration `default:"720h" usage:"Payment term of new invoices" flag:"invoice-term"`
	CreditLimit string        `default:"500" usage:"Outstanding amount a customer may carry" flag:"credit-limit"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Shared bool          `default:"true" usage:"Keep counters in Redis so replicas share one budget" flag:"rate-limit-shared"`
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
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreditLimit returns the parsed credit limit.
func (c *Config) CreditLimit() decimal.Decimal {
	return decimal.RequireFromString(c.Invoice.CreditLimit)
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.Loyalty.PointsPerEuro <= 0 {
		return errors.Errorf("points per euro must be positive, got %d", c.Loyalty.PointsPerEuro)
	}
	if c.RateLimit.Max <= 0 {
		return errors.Errorf("rate limit max must be positive, got %d", c.RateLimit.Max)
	}
	if c.RateLimit.Window <= 0 {
		return errors.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	limit, err := decimal.NewFromString(c.Invoice.CreditLimit)
	if err != nil {
		return errors.Wrapf(err, "parse credit limit %q", c.Invoice.CreditLimit)
	}
	if limit.IsNegative() {
		return errors.Errorf("credit limit must not be negative, got %s", limit)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL, PORT and REDIS_URL
// to the application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if v := os.Getenv("REDIS_URL"); v != "" && c.Redis.Addr == "" {
		opts, err := redis.ParseURL(v)
		if err != nil {
			return errors.Wrap(err, "parse REDIS_URL")
		}
		c.Redis.Addr = opts.Addr
		c.Redis.Password = opts.Password
		c.Redis.DB = opts.DB
	}
	return nil
}
