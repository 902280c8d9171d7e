// Package tools implements the semantic tool surface: the declarative
// registry served by tools/list and the handlers invoked by tools/call.
package tools

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/evmrpc"
	"github.com/CroLens/server/internal/multicall"
	"github.com/CroLens/server/internal/pricing"
	"github.com/CroLens/server/internal/simulator"
)

// Deps are the collaborators a tool handler may touch. Tool code never
// writes ApiKey or Payment state; those mutations belong to the gateway.
type Deps struct {
	Store   catalog.Store
	RPC     *evmrpc.Client
	MC      *multicall.Caller
	AMM     *adapters.AMMAdapter
	Lending *adapters.LendingAdapter
	Oracle  *pricing.Oracle
	Sim     *simulator.Client

	ChainID       int64
	NativeSymbol  string
	WrappedNative common.Address
}

// Handler computes one tool result. The dispatcher attaches meta.
type Handler func(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error)

// Tool is one registry entry.
type Tool struct {
	Name        string
	Description string
	InputSchema Schema
	Handler     Handler
}

// Registry is the closed, ordered tool set. Order is stable across calls;
// integration tests assert the served count equals the registry length.
type Registry struct {
	ordered []Tool
	byName  map[string]*Tool
}

// NewRegistry assembles the full tool table.
func NewRegistry() *Registry {
	return NewRegistryWith(buildTools()...)
}

// NewRegistryWith builds a registry from an explicit tool list.
func NewRegistryWith(list ...Tool) *Registry {
	r := &Registry{byName: make(map[string]*Tool)}
	for _, t := range list {
		r.register(t)
	}
	return r
}

func (r *Registry) register(t Tool) {
	r.ordered = append(r.ordered, t)
	r.byName[t.Name] = &r.ordered[len(r.ordered)-1]
}

// Tools returns the ordered registry.
func (r *Registry) Tools() []Tool { return r.ordered }

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// buildTools is the single source of truth for the tool surface.
func buildTools() []Tool {
	return []Tool{
		{
			Name:        "get_account_summary",
			Description: "Full portfolio view for an address: wallet token balances with USD values, DeFi positions, and total net worth.",
			InputSchema: ObjectSchema(map[string]Property{
				"address":     AddressProp("Account address to summarize"),
				"simple_mode": BoolProp("Return a one-paragraph text summary instead of structured data"),
			}, "address"),
			Handler: getAccountSummary,
		},
		{
			Name:        "get_defi_positions",
			Description: "VVS liquidity and farm positions plus Tectonic supply/borrow balances and health factor for an address.",
			InputSchema: ObjectSchema(map[string]Property{
				"address":     AddressProp("Account address"),
				"simple_mode": BoolProp("Return a one-paragraph text summary"),
			}, "address"),
			Handler: getDefiPositions,
		},
		{
			Name:        "get_token_balances",
			Description: "ERC-20 balances of an address across the token catalog, with decimals applied and USD values attached.",
			InputSchema: ObjectSchema(map[string]Property{
				"address": AddressProp("Account address"),
			}, "address"),
			Handler: getTokenBalances,
		},
		{
			Name:        "get_token_info",
			Description: "Token identity: symbol, name, decimals, total supply, and current USD price.",
			InputSchema: ObjectSchema(map[string]Property{
				"token": AddressProp("Token contract address"),
			}, "token"),
			Handler: getTokenInfo,
		},
		{
			Name:        "get_token_price",
			Description: "USD price of a token from the two-tier oracle (anchor or AMM-derived). price_usd is null when no route exists.",
			InputSchema: ObjectSchema(map[string]Property{
				"token": AddressProp("Token contract address"),
			}, "token"),
			Handler: getTokenPrice,
		},
		{
			Name:        "get_token_prices",
			Description: "Batch USD prices for up to 20 tokens.",
			InputSchema: ObjectSchema(map[string]Property{
				"tokens": ArrayProp("Token contract addresses", AddressProp("Token contract address"), 1, 20),
			}, "tokens"),
			Handler: getTokenPrices,
		},
		{
			Name:        "get_pool_info",
			Description: "AMM pair state: tokens, reserves, total LP supply, and TVL in USD.",
			InputSchema: ObjectSchema(map[string]Property{
				"pool": AddressProp("Pair contract address"),
			}, "pool"),
			Handler: getPoolInfo,
		},
		{
			Name:        "get_vvs_pools",
			Description: "Top VVS pools from the catalog, deepest first.",
			InputSchema: ObjectSchema(map[string]Property{
				"limit": NumberProp("Maximum pools to return", 1, 50),
			}),
			Handler: getVVSPools,
		},
		{
			Name:        "get_vvs_farms",
			Description: "MasterChef farm state; with an address, the user's staked positions and pending rewards.",
			InputSchema: ObjectSchema(map[string]Property{
				"address": AddressProp("Optional staker address"),
			}),
			Handler: getVVSFarms,
		},
		{
			Name:        "get_tectonic_markets",
			Description: "Tectonic lending markets with supply/borrow APY and liquidity.",
			InputSchema: ObjectSchema(map[string]Property{}),
			Handler:     getTectonicMarkets,
		},
		{
			Name:        "get_tectonic_position",
			Description: "A user's Tectonic supplies, borrows, and health factor.",
			InputSchema: ObjectSchema(map[string]Property{
				"address": AddressProp("Account address"),
			}, "address"),
			Handler: getTectonicPosition,
		},
		{
			Name:        "get_lending_rates",
			Description: "Supply and borrow APY per lending market.",
			InputSchema: ObjectSchema(map[string]Property{
				"market": AddressProp("Optional market address to filter"),
			}),
			Handler: getLendingRates,
		},
		{
			Name:        "decode_transaction",
			Description: "Decode a transaction: protocol label, method name, structured parameters, and receipt status.",
			InputSchema: ObjectSchema(map[string]Property{
				"tx_hash":     TxHashProp("Transaction hash"),
				"simple_mode": BoolProp("Return a one-paragraph text summary"),
			}, "tx_hash"),
			Handler: decodeTransaction,
		},
		{
			Name:        "get_transaction_status",
			Description: "Lifecycle status of a transaction: pending, success, or failed, with confirmations.",
			InputSchema: ObjectSchema(map[string]Property{
				"tx_hash": TxHashProp("Transaction hash"),
			}, "tx_hash"),
			Handler: getTransactionStatus,
		},
		{
			Name:        "simulate_transaction",
			Description: "Advisory simulation of a transaction. Degrades to a best-effort eth_call when no simulator is configured.",
			InputSchema: ObjectSchema(map[string]Property{
				"from":        AddressProp("Sender address"),
				"to":          AddressProp("Target address"),
				"data":        HexDataProp("Calldata"),
				"value":       StringProp("Value in wei (decimal string)", 78),
				"simple_mode": BoolProp("Return a one-paragraph text summary"),
			}, "from", "to"),
			Handler: simulateTransaction,
		},
		{
			Name:        "construct_swap_tx",
			Description: "Build an approval+swap pipeline on the VVS router with slippage applied via amountOutMin.",
			InputSchema: ObjectSchema(map[string]Property{
				"from":         AddressProp("Sender address"),
				"token_in":     AddressProp("Token to sell"),
				"token_out":    AddressProp("Token to buy"),
				"amount_in":    StringProp("Amount to sell in raw units (decimal string)", 78),
				"slippage_bps": NumberProp("Slippage tolerance in basis points", 0, 5000),
			}, "from", "token_in", "token_out", "amount_in"),
			Handler: constructSwapTx,
		},
		{
			Name:        "get_swap_quote",
			Description: "Router quote for a swap with price impact estimate.",
			InputSchema: ObjectSchema(map[string]Property{
				"token_in":  AddressProp("Token to sell"),
				"token_out": AddressProp("Token to buy"),
				"amount_in": StringProp("Amount to sell in raw units (decimal string)", 78),
			}, "token_in", "token_out", "amount_in"),
			Handler: getSwapQuote,
		},
		{
			Name:        "get_approval_status",
			Description: "Current ERC-20 allowance of a spender (defaults to the VVS router).",
			InputSchema: ObjectSchema(map[string]Property{
				"owner":   AddressProp("Token owner"),
				"token":   AddressProp("Token contract"),
				"spender": AddressProp("Optional spender, defaults to the router"),
			}, "owner", "token"),
			Handler: getApprovalStatus,
		},
		{
			Name:        "construct_approval_tx",
			Description: "Build an ERC-20 approve transaction.",
			InputSchema: ObjectSchema(map[string]Property{
				"owner":   AddressProp("Token owner"),
				"token":   AddressProp("Token contract"),
				"spender": AddressProp("Optional spender, defaults to the router"),
				"amount":  StringProp("Allowance in raw units (decimal string), defaults to unlimited", 78),
			}, "owner", "token"),
			Handler: constructApprovalTx,
		},
		{
			Name:        "get_gas_price",
			Description: "Current gas price in wei and gwei.",
			InputSchema: ObjectSchema(map[string]Property{}),
			Handler:     getGasPrice,
		},
		{
			Name:        "get_block_info",
			Description: "Block header by number or tag, defaults to latest.",
			InputSchema: ObjectSchema(map[string]Property{
				"block": StringProp("Block number or 'latest'", 20),
			}),
			Handler: getBlockInfo,
		},
		{
			Name:        "get_cro_overview",
			Description: "Chain overview: CRO price, block height, and gas price.",
			InputSchema: ObjectSchema(map[string]Property{}),
			Handler:     getCROOverview,
		},
		{
			Name:        "search_contract",
			Description: "Fuzzy search over contract names, token symbols, and addresses in the catalog.",
			InputSchema: ObjectSchema(map[string]Property{
				"query": StringProp("Search query", 200),
				"limit": NumberProp("Maximum results", 1, 50),
			}, "query"),
			Handler: searchContract,
		},
		{
			Name:        "get_protocol_stats",
			Description: "Pool counts and indexed TVL per supported protocol.",
			InputSchema: ObjectSchema(map[string]Property{
				"protocol": StringProp("Optional protocol id to filter", 50),
			}),
			Handler: getProtocolStats,
		},
		{
			Name:        "get_health_alerts",
			Description: "Lending positions of an address with health factor below 1.5.",
			InputSchema: ObjectSchema(map[string]Property{
				"address": AddressProp("Account address"),
			}, "address"),
			Handler: getHealthAlerts,
		},
		{
			Name:        "resolve_contract",
			Description: "Catalog label for an address: protocol, name, and kind.",
			InputSchema: ObjectSchema(map[string]Property{
				"address": AddressProp("Contract address"),
			}, "address"),
			Handler: resolveContract,
		},
		{
			Name:        "get_wallet_history_summary",
			Description: "Wallet activity summary from chain state: nonce, native balance, and contract flag.",
			InputSchema: ObjectSchema(map[string]Property{
				"address": AddressProp("Account address"),
			}, "address"),
			Handler: getWalletHistorySummary,
		},
		{
			Name:        "estimate_tx_cost",
			Description: "Gas estimate for a call, priced in native units and USD.",
			InputSchema: ObjectSchema(map[string]Property{
				"to":    AddressProp("Target address"),
				"data":  HexDataProp("Calldata"),
				"value": StringProp("Value in wei (decimal string)", 78),
			}, "to"),
			Handler: estimateTxCost,
		},
	}
}
