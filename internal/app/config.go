package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/bookorama/internal/domain/order"
	"github.com/xenking/bookorama/internal/storage/postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the API server configuration, loadable from environment
// variables (BOOKORAMA_ prefix, optionally from a .env file), flags, or YAML
// config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (BOOKORAMA_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (BOOKORAMA_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CheckoutConfig tunes duplicate detection and order persistence.
type CheckoutConfig struct {
	DedupStrategy  string        `default:"window" usage:"Duplicate submission policy: window or key" flag:"dedup-strategy"`
	DedupWindow    time.Duration `default:"10s" usage:"Identical carts from one user within this window resolve to one order" flag:"dedup-window"`
	PersistTimeout time.Duration `default:"5s" usage:"Upper bound of the order transaction, which outlives client disconnects" flag:"persist-timeout"`
	MaxRetries     int           `default:"3" usage:"Retries of a transaction aborted by serialization failure or deadlock" flag:"tx-max-retries"`
	RetryBackoff   time.Duration `default:"50ms" usage:"Base backoff between transaction retries" flag:"tx-retry-backoff"`
}

// RateLimitConfig controls the per-API-key sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window, 0 disables"`
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

// LoadConfig loads a .env file if present, then environment variables and
// YAML config files, and applies platform defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BOOKORAMA",
		Files:     []string{"config.yaml", "/etc/bookorama/config.yaml"},
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

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set BOOKORAMA_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set BOOKORAMA_API_KEY_PEPPER")
	}
	if _, err := c.Checkout.Policy(); err != nil {
		return errors.Wrap(err, "checkout")
	}
	if c.Checkout.MaxRetries < 0 {
		return errors.Errorf("checkout: negative max retries %d", c.Checkout.MaxRetries)
	}
	return nil
}

// Policy builds the configured duplicate submission policy.
func (c CheckoutConfig) Policy() (order.Policy, error) {
	return order.NewPolicy(c.DedupStrategy, c.DedupWindow)
}

// TxOptions returns the retry settings of the order transaction.
func (c CheckoutConfig) TxOptions() postgres.TxOptions {
	opts := postgres.DefaultTxOptions()
	opts.MaxRetries = c.MaxRetries
	if c.RetryBackoff > 0 {
		opts.BaseBackoff = c.RetryBackoff
	}
	return opts
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's BOOKORAMA_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
