package tools

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/jsonrpc"
	"github.com/CroLens/server/internal/multicall"
)

// Protocol ids and contract roles as seeded in the catalog.
const (
	protocolVVS      = "vvs"
	protocolTectonic = "tectonic"

	kindRouter      = "router"
	kindMasterchef  = "masterchef"
	kindComptroller = "comptroller"
)

// walletEntry is one non-zero balance with value attached.
type walletEntry struct {
	Token    string   `json:"token"`
	Symbol   string   `json:"symbol"`
	Balance  float64  `json:"balance"`
	RawValue string   `json:"raw_balance"`
	PriceUSD *float64 `json:"price_usd"`
	ValueUSD float64  `json:"value_usd"`
}

// walletBalances enumerates candidate tokens from the catalog, batches
// balanceOf through the aggregator, filters zero balances, and attaches
// decimals and derived USD values.
func walletBalances(ctx context.Context, deps *Deps, owner common.Address) ([]walletEntry, float64, error) {
	tokens, err := deps.Store.ListTokens(ctx)
	if err != nil {
		return nil, 0, err
	}

	var entries []walletEntry
	total := 0.0

	// Native balance first.
	if native, err := deps.RPC.GetBalance(ctx, owner); err == nil && native.ToInt().Sign() > 0 {
		amount := adapters.ToFloat(native.ToInt(), 18)
		entry := walletEntry{
			Token:    "native",
			Symbol:   deps.NativeSymbol,
			Balance:  amount,
			RawValue: native.ToInt().String(),
		}
		if price := nativePrice(ctx, deps); price != nil {
			entry.PriceUSD = price
			entry.ValueUSD = amount * *price
			total += entry.ValueUSD
		}
		entries = append(entries, entry)
	}

	if len(tokens) > 0 {
		calls := make([]multicall.Call, len(tokens))
		for i, tok := range tokens {
			calls[i] = adapters.BalanceOfCall(common.HexToAddress(tok.Address), owner)
		}
		results, err := deps.MC.Aggregate(ctx, calls)
		if err != nil {
			return nil, 0, err
		}
		for i, res := range results {
			if !res.Success {
				continue
			}
			raw, err := adapters.DecodeUint256(res.Data)
			if err != nil || raw.Sign() == 0 {
				continue
			}
			tok := tokens[i]
			amount := adapters.ToFloat(raw, tok.Decimals)
			entry := walletEntry{
				Token:    tok.Address,
				Symbol:   tok.Symbol,
				Balance:  amount,
				RawValue: raw.String(),
			}
			if price, _ := deps.Oracle.PriceUSD(ctx, tok); price != nil {
				entry.PriceUSD = price
				entry.ValueUSD = amount * *price
				total += entry.ValueUSD
			}
			entries = append(entries, entry)
		}
	}

	return entries, total, nil
}

// nativePrice prices the native token through its wrapped form.
func nativePrice(ctx context.Context, deps *Deps) *float64 {
	if deps.WrappedNative == (common.Address{}) {
		return nil
	}
	wrapped, err := deps.Store.TokenByAddress(ctx, deps.WrappedNative.Hex())
	if err != nil {
		return nil
	}
	price, _ := deps.Oracle.PriceUSD(ctx, wrapped)
	return price
}

// priceByAddress resolves a token row and its price, tolerating unknown tokens.
func priceByAddress(ctx context.Context, deps *Deps, address string) (catalog.Token, *float64) {
	tok, err := deps.Store.TokenByAddress(ctx, address)
	if err != nil {
		return catalog.Token{Address: address, Decimals: 18}, nil
	}
	price, _ := deps.Oracle.PriceUSD(ctx, tok)
	return tok, price
}

// routerAddress resolves the VVS router from the catalog.
func routerAddress(ctx context.Context, deps *Deps) (common.Address, error) {
	contract, err := deps.Store.ContractByKind(ctx, protocolVVS, kindRouter)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return common.Address{}, jsonrpc.ServiceUnavailable("Router contract not configured")
		}
		return common.Address{}, err
	}
	return common.HexToAddress(contract.Address), nil
}

// parseAmount parses a decimal raw-unit amount argument.
func parseAmount(raw string) (*big.Int, *jsonrpc.Error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, jsonrpc.InvalidParams(fmt.Sprintf("Invalid amount %q", raw))
	}
	return amount, nil
}

// simpleResult wraps a text rendering, preserving the meta contract.
func simpleResult(text string) map[string]interface{} {
	return map[string]interface{}{"text": text}
}

// priceOrNil renders a *float64 for JSON shaping.
func priceOrNil(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
