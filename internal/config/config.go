// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger settings
	HorizonURL string
	Network    string // "public" or "testnet"

	// Analysis budgets
	AnalysisTimeout      time.Duration // overall wall-clock budget per assessment
	SignalTimeout        time.Duration // per signal fetch
	PortfolioConcurrency int           // parallel asset scans per portfolio

	// Risk heuristics
	LargeTransferThreshold float64 // amount above which a payment is flagged
	MaxOperations          int     // ops above this add shape risk

	// Preview settings (native currency units)
	BaseFee     float64 // per-operation fee
	BaseReserve float64 // reserve per account entry

	// Security
	RateLimitRPM int    // API requests per minute per client
	AdminSecret  string // Admin API secret

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint, tracing disabled if empty
}

// Defaults for a testnet deployment.
const (
	DefaultHorizonURL      = "https://horizon-testnet.stellar.org"
	DefaultNetwork         = "testnet"
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultAnalysisTimeout = 10 * time.Second
	DefaultSignalTimeout   = 3 * time.Second
	DefaultConcurrency     = 4
	DefaultLargeTransfer   = 10000.0
	DefaultMaxOperations   = 20
	DefaultBaseFee         = 0.00001 // 100 stroops
	DefaultBaseReserve     = 0.5
	DefaultRateLimitPerMin = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:            os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		HorizonURL:             getEnv("HORIZON_URL", DefaultHorizonURL),
		Network:                getEnv("NETWORK", DefaultNetwork),
		AnalysisTimeout:        getEnvDuration("ANALYSIS_TIMEOUT", DefaultAnalysisTimeout),
		SignalTimeout:          getEnvDuration("SIGNAL_TIMEOUT", DefaultSignalTimeout),
		PortfolioConcurrency:   int(getEnvInt64("PORTFOLIO_CONCURRENCY", DefaultConcurrency)),
		LargeTransferThreshold: getEnvFloat("LARGE_TRANSFER_THRESHOLD", DefaultLargeTransfer),
		MaxOperations:          int(getEnvInt64("MAX_OPERATIONS", DefaultMaxOperations)),
		BaseFee:                getEnvFloat("BASE_FEE", DefaultBaseFee),
		BaseReserve:            getEnvFloat("BASE_RESERVE", DefaultBaseReserve),
		RateLimitRPM:           int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitPerMin)),
		AdminSecret:            os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.HorizonURL == "" {
		return fmt.Errorf("HORIZON_URL is required")
	}
	if u, err := url.Parse(c.HorizonURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("HORIZON_URL must be an absolute URL")
	}

	if c.Network != "public" && c.Network != "testnet" {
		return fmt.Errorf("NETWORK must be \"public\" or \"testnet\", got %q", c.Network)
	}

	if c.SignalTimeout <= 0 || c.AnalysisTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.SignalTimeout > c.AnalysisTimeout {
		return fmt.Errorf("SIGNAL_TIMEOUT must not exceed ANALYSIS_TIMEOUT")
	}

	if c.PortfolioConcurrency < 1 {
		return fmt.Errorf("PORTFOLIO_CONCURRENCY must be at least 1")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
