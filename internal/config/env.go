package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "SERVER_ADDRESS")
	setFloatIfEnv(&c.Server.RequestLogSampleRate, "REQUEST_LOG_SAMPLE_RATE")
	if v := os.Getenv("CORS_ALLOW_ORIGIN"); v != "" {
		c.Server.CORSAllowedOrigins = splitAndTrim(v)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ENVIRONMENT")

	// Chain config
	setInt64IfEnv(&c.Chain.ChainID, "CHAIN_ID")
	setIfEnv(&c.Chain.WrappedNative, "WRAPPED_NATIVE_ADDRESS")
	setIfEnv(&c.Chain.MulticallAddress, "MULTICALL_ADDRESS")

	// RPC config
	setIfEnv(&c.RPC.UpstreamURL, "UPSTREAM_RPC_URL")
	setIntIfEnv(&c.RPC.MaxRetries, "RPC_MAX_RETRIES")
	setMillisIfEnv(&c.RPC.Timeout, "RPC_TIMEOUT_MS")
	setSecsIfEnv(&c.RPC.CacheTTL, "RPC_CACHE_TTL_SECS")

	// x402 config
	setIfEnv(&c.X402.PaymentAddress, "X402_PAYMENT_ADDRESS")
	setInt64IfEnv(&c.X402.TopupCredits, "X402_TOPUP_CREDITS")
	setIfEnv(&c.X402.PricePerCreditWei, "X402_PRICE_PER_CREDIT_WEI")

	// Catalog config
	setIfEnv(&c.Catalog.PostgresURL, "POSTGRES_URL")

	// KV config
	setIfEnv(&c.KV.RedisURL, "REDIS_URL")

	// Pricing config
	setSecsIfEnv(&c.Pricing.AnchorRefreshInterval, "ANCHOR_REFRESH_INTERVAL_SECS")
	setSecsIfEnv(&c.Pricing.AnchorPriceTTL, "ANCHOR_PRICE_TTL_SECS")
	setSecsIfEnv(&c.Pricing.DerivedPriceTTL, "DERIVED_PRICE_TTL_SECS")
	setIfEnv(&c.Pricing.AnchorSourceURL, "ANCHOR_PRICE_URL")

	// Rate limit config
	setIntIfEnv(&c.RateLimit.JSONRPCPerWindow, "RATE_LIMIT_JSONRPC_PER_MIN")
	setSecsIfEnv(&c.RateLimit.JSONRPCWindow, "RATE_LIMIT_JSONRPC_WINDOW_SECS")
	setIntIfEnv(&c.RateLimit.FreePerHour, "RATE_LIMIT_FREE_PER_HOUR")
	setIntIfEnv(&c.RateLimit.ProPerHour, "RATE_LIMIT_PRO_PER_HOUR")
	setIntIfEnv(&c.RateLimit.QuotePerMin, "RATE_LIMIT_QUOTE_PER_MIN")
	setIntIfEnv(&c.RateLimit.VerifyPerMin, "RATE_LIMIT_VERIFY_PER_MIN")

	// Credits config
	setInt64IfEnv(&c.Credits.DefaultCredits, "DEFAULT_CREDITS")

	// Simulator config
	setIfEnv(&c.Simulator.URL, "SIMULATOR_URL")
	setIfEnv(&c.Simulator.APIKey, "SIMULATOR_API_KEY")
	setMillisIfEnv(&c.Simulator.Timeout, "SIMULATOR_TIMEOUT_MS")
}

// setIfEnv sets dest to the env var's value when the variable is present and non-empty.
func setIfEnv(dest *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dest = v
	}
}

func setIntIfEnv(dest *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dest = n
		}
	}
}

func setInt64IfEnv(dest *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dest = n
		}
	}
}

func setFloatIfEnv(dest *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dest = f
		}
	}
}

func setMillisIfEnv(dest *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			dest.Duration = time.Duration(n) * time.Millisecond
		}
	}
}

func setSecsIfEnv(dest *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			dest.Duration = time.Duration(n) * time.Second
		}
	}
}

// splitAndTrim splits a comma separated list, dropping empty entries.
func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
