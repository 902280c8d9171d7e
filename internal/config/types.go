package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Chain     ChainConfig     `yaml:"chain"`
	RPC       RPCConfig       `yaml:"rpc"`
	X402      X402Config      `yaml:"x402"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	KV        KVConfig        `yaml:"kv"`
	Pricing   PricingConfig   `yaml:"pricing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Credits   CreditsConfig   `yaml:"credits"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address              string   `yaml:"address"`
	ReadTimeout          Duration `yaml:"read_timeout"`
	WriteTimeout         Duration `yaml:"write_timeout"`
	IdleTimeout          Duration `yaml:"idle_timeout"`
	RequestDeadline      Duration `yaml:"request_deadline"` // soft deadline for one tool call
	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	RequestLogSampleRate float64  `yaml:"request_log_sample_rate"` // 0..1
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// ChainConfig identifies the single EVM chain this service reads from.
type ChainConfig struct {
	ChainID          int64  `yaml:"chain_id"`
	NativeSymbol     string `yaml:"native_symbol"`
	WrappedNative    string `yaml:"wrapped_native"`    // WCRO contract address
	MulticallAddress string `yaml:"multicall_address"` // canonical Multicall3
}

// RPCConfig holds upstream JSON-RPC client configuration.
type RPCConfig struct {
	UpstreamURL string   `yaml:"upstream_url"`
	MaxRetries  int      `yaml:"max_retries"`
	Timeout     Duration `yaml:"timeout"`
	CacheTTL    Duration `yaml:"cache_ttl"`
}

// X402Config holds the on-chain top-up protocol configuration.
// Top-up is disabled when PaymentAddress is empty.
type X402Config struct {
	PaymentAddress    string `yaml:"payment_address"`
	TopupCredits      int64  `yaml:"topup_credits"`
	PricePerCreditWei string `yaml:"price_per_credit_wei"` // decimal string, fits big.Int
}

// CatalogConfig holds relational store configuration.
type CatalogConfig struct {
	PostgresURL     string   `yaml:"postgres_url"` // empty = in-memory (dev only)
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// KVConfig holds the KV cache backend configuration.
type KVConfig struct {
	RedisURL string `yaml:"redis_url"` // empty = in-memory
}

// PricingConfig holds oracle and anchor refresher configuration.
type PricingConfig struct {
	AnchorRefreshInterval Duration `yaml:"anchor_refresh_interval"`
	AnchorPriceTTL        Duration `yaml:"anchor_price_ttl"`
	DerivedPriceTTL       Duration `yaml:"derived_price_ttl"`
	AnchorSourceURL       string   `yaml:"anchor_source_url"` // external price API; empty = derive from stable pools
}

// RateLimitConfig holds fixed-window rate limiting configuration.
// JSON-RPC and per-key windows are counted in the KV cache; the x402
// quote/verify endpoints use in-process per-IP limiting.
type RateLimitConfig struct {
	JSONRPCPerWindow int      `yaml:"jsonrpc_per_window"`
	JSONRPCWindow    Duration `yaml:"jsonrpc_window"`
	FreePerHour      int      `yaml:"free_per_hour"`
	ProPerHour       int      `yaml:"pro_per_hour"` // 0 = unlimited
	QuotePerMin      int      `yaml:"quote_per_min"`
	VerifyPerMin     int      `yaml:"verify_per_min"`
}

// CreditsConfig holds API key provisioning and billing configuration.
type CreditsConfig struct {
	DefaultCredits int64    `yaml:"default_credits"` // balance granted on first sighting
	FreeTools      []string `yaml:"free_tools"`      // tools that do not consume a credit
	ProTools       []string `yaml:"pro_tools"`       // tools requiring the pro tier
}

// SimulatorConfig holds the optional third-party simulator configuration.
// Simulation degrades (never fails) when URL is empty.
type SimulatorConfig struct {
	URL     string   `yaml:"url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

// BreakerConfig configures the circuit breaker guarding the upstream RPC.
type BreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
}
