package tools

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/catalog"
)

// getPoolInfo reads live pair state and prices the reserves.
func getPoolInfo(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	address := StringArg(args, "pool")

	state, err := deps.AMM.PairState(ctx, common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	token0, price0 := priceByAddress(ctx, deps, state.Token0.Hex())
	token1, price1 := priceByAddress(ctx, deps, state.Token1.Hex())

	reserve0 := adapters.ToFloat(state.Reserve0, token0.Decimals)
	reserve1 := adapters.ToFloat(state.Reserve1, token1.Decimals)
	tvl := reserve0*deref(price0) + reserve1*deref(price1)

	return map[string]interface{}{
		"pool": address,
		"pair": token0.Symbol + "/" + token1.Symbol,
		"token0": map[string]interface{}{
			"address":   state.Token0.Hex(),
			"symbol":    token0.Symbol,
			"reserve":   reserve0,
			"price_usd": priceOrNil(price0),
		},
		"token1": map[string]interface{}{
			"address":   state.Token1.Hex(),
			"symbol":    token1.Symbol,
			"reserve":   reserve1,
			"price_usd": priceOrNil(price1),
		},
		"lp_total_supply": state.TotalSupply.String(),
		"tvl_usd":         tvl,
	}, nil
}

// getVVSPools lists catalog pools, deepest first.
func getVVSPools(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	limit := int(NumberArg(args, "limit", 10))

	pools, err := deps.Store.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	if len(pools) > limit {
		pools = pools[:limit]
	}

	out := make([]map[string]interface{}, 0, len(pools))
	for _, pool := range pools {
		token0, _ := priceByAddress(ctx, deps, pool.Token0)
		token1, _ := priceByAddress(ctx, deps, pool.Token1)
		out = append(out, map[string]interface{}{
			"pool":    pool.Address,
			"pair":    token0.Symbol + "/" + token1.Symbol,
			"tvl_usd": pool.TVLUSD,
		})
	}
	return map[string]interface{}{"pools": out}, nil
}

// getVVSFarms lists the farm universe; with an address, the caller's stakes.
func getVVSFarms(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	chef, err := deps.Store.ContractByKind(ctx, protocolVVS, kindMasterchef)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return map[string]interface{}{"farms": []interface{}{}, "masterchef": nil}, nil
		}
		return nil, err
	}

	poolCount, err := deps.AMM.FarmPoolCount(ctx, common.HexToAddress(chef.Address))
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"masterchef": chef.Address,
		"pool_count": poolCount,
	}

	if address := StringArg(args, "address"); address != "" {
		farms, err := farmPositions(ctx, deps, common.HexToAddress(address))
		if err != nil {
			return nil, err
		}
		result["positions"] = farms.positions
		result["total_staked_usd"] = farms.stakedUSD
		result["total_pending_rewards_usd"] = farms.rewardsUSD
	}

	return result, nil
}

// getProtocolStats reports pool counts and indexed TVL per protocol.
func getProtocolStats(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	filter := StringArg(args, "protocol")

	protocols, err := deps.Store.ListProtocols(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := deps.Store.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	markets, err := deps.Store.ListLendingMarkets(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]map[string]interface{}, 0, len(protocols))
	for _, proto := range protocols {
		if filter != "" && proto.ID != filter {
			continue
		}
		poolCount, tvl := 0, 0.0
		for _, pool := range pools {
			if pool.ProtocolID == proto.ID {
				poolCount++
				tvl += pool.TVLUSD
			}
		}
		marketCount := 0
		for _, market := range markets {
			if market.ProtocolID == proto.ID {
				marketCount++
			}
		}
		stats = append(stats, map[string]interface{}{
			"protocol":     proto.ID,
			"name":         proto.Name,
			"adapter_type": proto.AdapterType,
			"pool_count":   poolCount,
			"market_count": marketCount,
			"tvl_usd":      tvl,
		})
	}

	return map[string]interface{}{"protocols": stats}, nil
}
