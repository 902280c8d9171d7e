package catalog

import "time"

// Tier is an API key tier level.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// APIKey is a provisioned caller identity. Credits never go negative; a
// successful billed call decrements them by exactly one.
type APIKey struct {
	Key          string
	Tier         Tier
	Credits      int64
	DailyUsed    int64
	DailyResetAt time.Time
	IsActive     bool
	CreatedAt    time.Time
}

// Payment is one verified on-chain top-up. TxHash uniqueness is the
// idempotency boundary of the crediting protocol; rows are never mutated.
type Payment struct {
	TxHash         string
	APIKey         string
	FromAddress    string
	ToAddress      string
	ValueWei       string // decimal string, fits big.Int
	CreditsGranted int64
	CreatedAt      time.Time
}

// Protocol is a supported DeFi protocol. AdapterType selects adapter
// behavior: "uniswap_v2_amm" or "compound_v2_lending".
type Protocol struct {
	ID          string
	Name        string
	AdapterType string
}

// Contract is a labeled deployment belonging to a protocol.
type Contract struct {
	Address    string
	Name       string
	ProtocolID string
	Kind       string // router, factory, masterchef, comptroller, ctoken, ...
}

// Token is a known ERC-20 (or the wrapped native).
type Token struct {
	Address    string
	Symbol     string
	Name       string
	Decimals   uint8
	IsStable   bool
	IsAnchor   bool
	ExternalID string // external price identifier for anchor tokens
}

// DexPool is a UniswapV2-style pair.
type DexPool struct {
	Address    string
	ProtocolID string
	Token0     string
	Token1     string
	TVLUSD     float64 // last indexed TVL; orders pools deepest first
}

// LendingMarket is a CompoundV2-style cToken market.
type LendingMarket struct {
	Address          string // tToken contract
	ProtocolID       string
	Underlying       string // underlying token address, empty for native
	Symbol           string
	CollateralFactor float64
}

// RequestLog is one sampled request record. Append-only.
type RequestLog struct {
	TraceID     string
	APIKey      string
	ToolName    string
	LatencyMS   int64
	Status      string // success | error
	ErrorCode   string
	IPAddress   string
	RequestSize int64
	CreatedAt   time.Time
}

// SearchResult is one fuzzy catalog match.
type SearchResult struct {
	Address string
	Name    string
	Kind    string // token | contract
	Symbol  string
}
