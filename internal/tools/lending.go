package tools

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/adapters"
)

// getTectonicMarkets lists all lending markets with live rates.
func getTectonicMarkets(ctx context.Context, deps *Deps, _ map[string]interface{}) (map[string]interface{}, error) {
	markets, err := deps.Store.ListLendingMarkets(ctx)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return map[string]interface{}{"markets": []interface{}{}}, nil
	}

	addrs := make([]common.Address, len(markets))
	for i, m := range markets {
		addrs[i] = common.HexToAddress(m.Address)
	}
	states, err := deps.Lending.MarketStates(ctx, addrs)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, len(markets))
	for i, market := range markets {
		underlying, price := priceByAddress(ctx, deps, market.Underlying)
		cash := adapters.ToFloat(states[i].CashRaw, underlying.Decimals)
		borrows := adapters.ToFloat(states[i].TotalBorrowRaw, underlying.Decimals)
		out[i] = map[string]interface{}{
			"market":               market.Address,
			"symbol":               market.Symbol,
			"underlying":           underlying.Symbol,
			"supply_apy":           states[i].SupplyAPY,
			"borrow_apy":           states[i].BorrowAPY,
			"available":            cash,
			"total_borrows":        borrows,
			"collateral_factor":    market.CollateralFactor,
			"underlying_price_usd": priceOrNil(price),
		}
	}

	return map[string]interface{}{"markets": out}, nil
}

// getTectonicPosition serves the lending slice of the DeFi view.
func getTectonicPosition(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	address := StringArg(args, "address")
	position, err := tectonicPosition(ctx, deps, common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"address":          address,
		"total_supply_usd": position.TotalSupplyUSD,
		"total_borrow_usd": position.TotalBorrowUSD,
		"net_value_usd":    position.NetValueUSD,
		"health_factor":    position.HealthFactor,
		"supplies":         position.Supplies,
		"borrows":          position.Borrows,
	}, nil
}

// getLendingRates reports APYs, optionally filtered to one market.
func getLendingRates(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	filter := StringArg(args, "market")

	markets, err := deps.Store.ListLendingMarkets(ctx)
	if err != nil {
		return nil, err
	}

	var addrs []common.Address
	var kept []int
	for i, market := range markets {
		if filter != "" && !strings.EqualFold(market.Address, filter) {
			continue
		}
		addrs = append(addrs, common.HexToAddress(market.Address))
		kept = append(kept, i)
	}
	if len(addrs) == 0 {
		return map[string]interface{}{"rates": []interface{}{}}, nil
	}

	states, err := deps.Lending.MarketStates(ctx, addrs)
	if err != nil {
		return nil, err
	}

	rates := make([]map[string]interface{}, len(states))
	for i, state := range states {
		market := markets[kept[i]]
		rates[i] = map[string]interface{}{
			"market":     market.Address,
			"symbol":     market.Symbol,
			"supply_apy": state.SupplyAPY,
			"borrow_apy": state.BorrowAPY,
		}
	}
	return map[string]interface{}{"rates": rates}, nil
}
