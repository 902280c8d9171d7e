package tools

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/catalog"
)

// getTokenInfo merges catalog identity with live on-chain supply and price.
func getTokenInfo(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	address := StringArg(args, "token")

	meta, err := adapters.ReadTokenMeta(ctx, deps.MC, common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"address":   address,
		"symbol":    meta.Symbol,
		"name":      meta.Name,
		"decimals":  meta.Decimals,
		"price_usd": nil,
	}
	if meta.TotalSupply != nil {
		result["total_supply"] = adapters.ToFloat(meta.TotalSupply, meta.Decimals)
		result["total_supply_raw"] = meta.TotalSupply.String()
	}

	// Catalog rows carry flags the chain cannot provide.
	if tok, err := deps.Store.TokenByAddress(ctx, address); err == nil {
		result["is_stablecoin"] = tok.IsStable
		if price, _ := deps.Oracle.PriceUSD(ctx, tok); price != nil {
			result["price_usd"] = *price
		}
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	return result, nil
}

// getTokenPrice serves the two-tier oracle verdict for one token.
func getTokenPrice(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	address := StringArg(args, "token")
	tok, price := priceByAddress(ctx, deps, address)

	source := "none"
	if price != nil {
		if tok.IsAnchor {
			source = "anchor"
		} else {
			source = "derived"
		}
	}

	return map[string]interface{}{
		"token":     address,
		"symbol":    tok.Symbol,
		"price_usd": priceOrNil(price),
		"source":    source,
	}, nil
}

// getTokenPrices is the batch variant, capped at 20 tokens by the schema.
func getTokenPrices(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	addresses := StringsArg(args, "tokens")

	prices := make([]map[string]interface{}, 0, len(addresses))
	for _, address := range addresses {
		tok, price := priceByAddress(ctx, deps, address)
		prices = append(prices, map[string]interface{}{
			"token":     address,
			"symbol":    tok.Symbol,
			"price_usd": priceOrNil(price),
		})
	}

	return map[string]interface{}{"prices": prices}, nil
}
