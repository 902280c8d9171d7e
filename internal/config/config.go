package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MulticallV3Address is the canonical Multicall3 deployment, identical on
// every EVM chain including Cronos.
const MulticallV3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:              ":8080",
			ReadTimeout:          Duration{Duration: 15 * time.Second},
			WriteTimeout:         Duration{Duration: 30 * time.Second},
			IdleTimeout:          Duration{Duration: 60 * time.Second},
			RequestDeadline:      Duration{Duration: 25 * time.Second},
			RequestLogSampleRate: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Chain: ChainConfig{
			ChainID:          25,
			NativeSymbol:     "CRO",
			MulticallAddress: MulticallV3Address,
		},
		RPC: RPCConfig{
			MaxRetries: 3,
			Timeout:    Duration{Duration: 10 * time.Second},
			CacheTTL:   Duration{Duration: 300 * time.Second},
		},
		X402: X402Config{
			TopupCredits:      1000,
			PricePerCreditWei: "1000000000000000", // 0.001 CRO
		},
		Catalog: CatalogConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
		},
		Pricing: PricingConfig{
			AnchorRefreshInterval: Duration{Duration: 60 * time.Second},
			AnchorPriceTTL:        Duration{Duration: 120 * time.Second},
			DerivedPriceTTL:       Duration{Duration: 30 * time.Second},
		},
		RateLimit: RateLimitConfig{
			JSONRPCPerWindow: 120,
			JSONRPCWindow:    Duration{Duration: 60 * time.Second},
			FreePerHour:      50,
			ProPerHour:       0,
			QuotePerMin:      30,
			VerifyPerMin:     10,
		},
		Credits: CreditsConfig{
			DefaultCredits: 50,
			FreeTools:      []string{"get_gas_price", "get_block_info", "get_cro_overview"},
			ProTools:       []string{"simulate_transaction", "construct_swap_tx", "construct_approval_tx"},
		},
		Simulator: SimulatorConfig{
			Timeout: Duration{Duration: 5 * time.Second},
		},
		Breaker: BreakerConfig{
			Enabled:             true,
			MaxRequests:         3,
			Interval:            Duration{Duration: 60 * time.Second},
			Timeout:             Duration{Duration: 30 * time.Second},
			ConsecutiveFailures: 5,
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// finalize validates the assembled configuration.
func (c *Config) finalize() error {
	if c.RPC.UpstreamURL == "" {
		return fmt.Errorf("config: upstream rpc url is required (UPSTREAM_RPC_URL)")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("config: chain id must be positive, got %d", c.Chain.ChainID)
	}
	if c.Chain.MulticallAddress == "" {
		c.Chain.MulticallAddress = MulticallV3Address
	}
	if c.Server.RequestLogSampleRate < 0 || c.Server.RequestLogSampleRate > 1 {
		return fmt.Errorf("config: request log sample rate must be in [0,1], got %f", c.Server.RequestLogSampleRate)
	}
	if c.RateLimit.JSONRPCPerWindow <= 0 {
		return fmt.Errorf("config: jsonrpc rate limit must be positive")
	}
	if c.Credits.DefaultCredits < 0 {
		return fmt.Errorf("config: default credits cannot be negative")
	}
	if c.X402.TopupCredits <= 0 {
		return fmt.Errorf("config: topup credits must be positive")
	}
	return nil
}

// TopupEnabled reports whether the x402 top-up flow is configured.
func (c *Config) TopupEnabled() bool {
	return c.X402.PaymentAddress != ""
}
