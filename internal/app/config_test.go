package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	return Config{
		Addr:      "0.0.0.0:8080",
		Loyalty:   LoyaltyConfig{PointsPerEuro: 10},
		Invoice:   InvoiceConfig{Term: 720 * time.Hour, CreditLimit: "500"},
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://shop@localhost/shop")
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://:secret@cache:6380/2")

	cfg := defaultConfig()
	require.NoError(t, cfg.applyPlatformDefaults())

	assert.Equal(t, "postgres://shop@localhost/shop", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestApplyPlatformDefaults_ExplicitWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform")
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")

	cfg := defaultConfig()
	cfg.DatabaseURL = "postgres://explicit"
	cfg.Addr = "127.0.0.1:7000"
	cfg.Redis.Addr = "explicit:6379"
	require.NoError(t, cfg.applyPlatformDefaults())

	assert.Equal(t, "postgres://explicit", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, "explicit:6379", cfg.Redis.Addr)
}

func TestApplyPlatformDefaults_BadRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "http://not-redis")

	cfg := defaultConfig()
	assert.Error(t, cfg.applyPlatformDefaults())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: true},
		{name: "zero points per euro", mutate: func(c *Config) { c.Loyalty.PointsPerEuro = 0 }, wantErr: true},
		{name: "bad credit limit", mutate: func(c *Config) { c.Invoice.CreditLimit = "lots" }, wantErr: true},
		{name: "negative credit limit", mutate: func(c *Config) { c.Invoice.CreditLimit = "-1" }, wantErr: true},
		{name: "zero rate limit window", mutate: func(c *Config) { c.RateLimit.Window = 0 }, wantErr: true},
		{name: "zero rate limit max", mutate: func(c *Config) { c.RateLimit.Max = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.DatabaseURL = "postgres://localhost/shop"
			tt.mutate(&cfg)

			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.NewFromInt(500).Equal(cfg.CreditLimit()))
		})
	}
}
