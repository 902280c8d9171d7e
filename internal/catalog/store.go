// Package catalog is the durable relational store: API keys, payments,
// protocol reference data, and sampled request logs. All business decisions
// (billing, crediting) read from here, never from the KV cache.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("catalog: not found")

// ErrInsufficientCredits is returned when a billed decrement would take a
// key's balance below zero.
var ErrInsufficientCredits = errors.New("catalog: insufficient credits")

// Store captures the persistence requirements of the gateway and the tools.
type Store interface {
	// API key lifecycle. Keys are created on first sighting and mutated by
	// billing and payment application; the core never deletes them.
	GetAPIKey(ctx context.Context, key string) (APIKey, error)
	CreateAPIKey(ctx context.Context, rec APIKey) error
	// DebitCredit decrements credits by one with a compare-and-set guard
	// (credits > 0) and bumps daily usage. Returns the remaining balance or
	// ErrInsufficientCredits.
	DebitCredit(ctx context.Context, key string) (int64, error)

	// ApplyPayment inserts the payment row and, iff the row is new, credits
	// the key and promotes it to pro — atomically. The bool reports whether
	// this call performed the grant (false = tx hash already credited).
	ApplyPayment(ctx context.Context, p Payment) (bool, error)
	GetPayment(ctx context.Context, txHash string) (Payment, error)

	// Reference data, read-mostly.
	ListProtocols(ctx context.Context) ([]Protocol, error)
	TokenByAddress(ctx context.Context, address string) (Token, error)
	TokenBySymbol(ctx context.Context, symbol string) (Token, error)
	ListTokens(ctx context.Context) ([]Token, error)
	AnchorTokens(ctx context.Context) ([]Token, error)
	ContractByAddress(ctx context.Context, address string) (Contract, error)
	ContractByKind(ctx context.Context, protocolID, kind string) (Contract, error)
	SearchContracts(ctx context.Context, query string, limit int) ([]SearchResult, error)
	ListPools(ctx context.Context) ([]DexPool, error)
	PoolsForToken(ctx context.Context, token string) ([]DexPool, error)
	PoolByAddress(ctx context.Context, address string) (DexPool, error)
	ListLendingMarkets(ctx context.Context) ([]LendingMarket, error)

	// InsertRequestLog appends one sampled request record.
	InsertRequestLog(ctx context.Context, rec RequestLog) error

	Ping(ctx context.Context) error
	Close() error
}
