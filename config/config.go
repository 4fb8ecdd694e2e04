package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string
	AppBaseURL  string
	FrontendURL string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// ToyyibPay configuration
	GatewayProvider  string
	GatewayBaseURL   string
	GatewaySecretKey string
	GatewayTimeout   time.Duration
	GatewayRPS       float64
	VerifyCallbacks  bool

	// Checkout configuration
	PlatformFeeRate decimal.Decimal
	HoldTTL         time.Duration
	ManualHoldTTL   time.Duration

	// Reconciliation configuration
	ReconcileLockTTL time.Duration
	CleanupInterval  time.Duration
	SweepBatch       int
	SweepRecheck     time.Duration

	// Status polling limits
	PollRateLimit  int
	PollRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

// LoadConfig reads the environment, after loading a .env file when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),
		AppBaseURL:  strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8090"), "/"),
		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "campus-ticket-server"),

		// ToyyibPay
		GatewayProvider:  getEnv("TOYYIBPAY_PROVIDER", "toyyibpay"),
		GatewayBaseURL:   getEnv("TOYYIBPAY_BASE_URL", ""),
		GatewaySecretKey: getEnv("TOYYIBPAY_SECRET_KEY", ""),
		GatewayTimeout:   getEnvAsDuration("GATEWAY_TIMEOUT", "15s"),
		GatewayRPS:       getEnvAsFloat("GATEWAY_RPS", 5),
		VerifyCallbacks:  getEnvAsBool("VERIFY_CALLBACKS", true),

		// Checkout
		PlatformFeeRate: getEnvAsDecimal("PLATFORM_FEE_RATE", "0.05"),
		HoldTTL:         getEnvAsDuration("HOLD_TTL", "30m"),
		ManualHoldTTL:   getEnvAsDuration("MANUAL_HOLD_TTL", "48h"),

		// Reconciliation
		ReconcileLockTTL: getEnvAsDuration("RECONCILE_LOCK_TTL", "30s"),
		CleanupInterval:  getEnvAsDuration("CLEANUP_INTERVAL", "5m"),
		SweepBatch:       getEnvAsInt("SWEEP_BATCH", 100),
		SweepRecheck:     getEnvAsDuration("SWEEP_RECHECK_AFTER", "5m"),

		// Polling
		PollRateLimit:  getEnvAsInt("POLL_RATE_LIMIT", 30),
		PollRateWindow: getEnvAsDuration("POLL_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// getEnvAsDecimal rejects rates outside [0, 1).
func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	fallback := decimal.RequireFromString(defaultValue)
	value, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil || value.IsNegative() || value.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fallback
	}
	return value
}
