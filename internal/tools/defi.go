package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/multicall"
)

// vvsSummary is the AMM side of a user's DeFi position.
type vvsSummary struct {
	TotalLiquidityUSD      float64                  `json:"total_liquidity_usd"`
	TotalPendingRewardsUSD float64                  `json:"total_pending_rewards_usd"`
	Positions              []map[string]interface{} `json:"positions"`
}

// tectonicSummary is the lending side of a user's DeFi position.
type tectonicSummary struct {
	TotalSupplyUSD float64                  `json:"total_supply_usd"`
	TotalBorrowUSD float64                  `json:"total_borrow_usd"`
	NetValueUSD    float64                  `json:"net_value_usd"`
	HealthFactor   interface{}              `json:"health_factor"`
	Supplies       []map[string]interface{} `json:"supplies"`
	Borrows        []map[string]interface{} `json:"borrows"`
}

// vvsPositions reads LP holdings and staked farm positions for an address.
func vvsPositions(ctx context.Context, deps *Deps, owner common.Address) (vvsSummary, error) {
	summary := vvsSummary{Positions: []map[string]interface{}{}}

	pools, err := deps.Store.ListPools(ctx)
	if err != nil {
		return summary, err
	}
	if len(pools) == 0 {
		return summary, nil
	}

	// Batch LP balanceOf across every catalog pool.
	mcCalls := make([]multicall.Call, len(pools))
	for i, pool := range pools {
		mcCalls[i] = adapters.BalanceOfCall(common.HexToAddress(pool.Address), owner)
	}

	results, err := deps.MC.Aggregate(ctx, mcCalls)
	if err != nil {
		return summary, err
	}

	for i, res := range results {
		if !res.Success {
			continue
		}
		balance, err := adapters.DecodeUint256(res.Data)
		if err != nil || balance.Sign() == 0 {
			continue
		}
		pool := pools[i]

		state, err := deps.AMM.PairState(ctx, common.HexToAddress(pool.Address))
		if err != nil {
			continue
		}
		token0, price0 := priceByAddress(ctx, deps, pool.Token0)
		token1, price1 := priceByAddress(ctx, deps, pool.Token1)
		value := adapters.LPValueUSD(state, balance, deref(price0), deref(price1), token0.Decimals, token1.Decimals)

		summary.TotalLiquidityUSD += value
		summary.Positions = append(summary.Positions, map[string]interface{}{
			"pool":      pool.Address,
			"pair":      token0.Symbol + "/" + token1.Symbol,
			"type":      "liquidity",
			"lp_amount": balance.String(),
			"value_usd": value,
		})
	}

	// Staked farm positions and pending rewards.
	if farmSummary, err := farmPositions(ctx, deps, owner); err == nil {
		summary.TotalLiquidityUSD += farmSummary.stakedUSD
		summary.TotalPendingRewardsUSD += farmSummary.rewardsUSD
		summary.Positions = append(summary.Positions, farmSummary.positions...)
	}

	return summary, nil
}

type farmResult struct {
	stakedUSD  float64
	rewardsUSD float64
	positions  []map[string]interface{}
}

// farmPositions reads MasterChef stakes for the pools the catalog knows.
// A missing MasterChef contract quietly yields no farm data.
func farmPositions(ctx context.Context, deps *Deps, owner common.Address) (farmResult, error) {
	var out farmResult

	chef, err := deps.Store.ContractByKind(ctx, protocolVVS, kindMasterchef)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return out, nil
		}
		return out, err
	}
	chefAddr := common.HexToAddress(chef.Address)

	pools, err := deps.Store.ListPools(ctx)
	if err != nil || len(pools) == 0 {
		return out, err
	}

	// Pool ids follow catalog order; farms beyond the catalog are invisible.
	poolIDs := make([]uint64, len(pools))
	lpTokens := make([]common.Address, len(pools))
	for i, pool := range pools {
		poolIDs[i] = uint64(i)
		lpTokens[i] = common.HexToAddress(pool.Address)
	}

	positions, err := deps.AMM.FarmPositions(ctx, chefAddr, owner, poolIDs, lpTokens)
	if err != nil {
		return out, err
	}

	rewardPrice := 0.0
	if vvsToken, err := deps.Store.TokenBySymbol(ctx, "VVS"); err == nil {
		if p, _ := deps.Oracle.PriceUSD(ctx, vvsToken); p != nil {
			rewardPrice = *p
		}
	}

	for _, pos := range positions {
		pool, err := deps.Store.PoolByAddress(ctx, pos.LPToken.Hex())
		if err != nil {
			continue
		}
		state, err := deps.AMM.PairState(ctx, pos.LPToken)
		if err != nil {
			continue
		}
		token0, price0 := priceByAddress(ctx, deps, pool.Token0)
		token1, price1 := priceByAddress(ctx, deps, pool.Token1)
		stakedValue := adapters.LPValueUSD(state, pos.StakedAmount, deref(price0), deref(price1), token0.Decimals, token1.Decimals)
		rewardValue := adapters.ToFloat(pos.PendingReward, 18) * rewardPrice

		out.stakedUSD += stakedValue
		out.rewardsUSD += rewardValue
		out.positions = append(out.positions, map[string]interface{}{
			"pool":               pool.Address,
			"pair":               token0.Symbol + "/" + token1.Symbol,
			"type":               "farm",
			"staked_amount":      pos.StakedAmount.String(),
			"value_usd":          stakedValue,
			"pending_reward":     pos.PendingReward.String(),
			"pending_reward_usd": rewardValue,
		})
	}
	return out, nil
}

// tectonicPosition reads a user's lending account across all markets.
func tectonicPosition(ctx context.Context, deps *Deps, owner common.Address) (tectonicSummary, error) {
	summary := tectonicSummary{
		HealthFactor: "∞",
		Supplies:     []map[string]interface{}{},
		Borrows:      []map[string]interface{}{},
	}

	markets, err := deps.Store.ListLendingMarkets(ctx)
	if err != nil {
		return summary, err
	}
	if len(markets) == 0 {
		return summary, nil
	}

	addrs := make([]common.Address, len(markets))
	for i, m := range markets {
		addrs[i] = common.HexToAddress(m.Address)
	}
	entries, err := deps.Lending.AccountEntries(ctx, addrs, owner)
	if err != nil {
		return summary, err
	}

	collateralUSD := 0.0
	for i, entry := range entries {
		market := markets[i]
		underlying, price := priceByAddress(ctx, deps, market.Underlying)

		if entry.SupplyRaw.Sign() > 0 {
			amount := adapters.ToFloat(entry.SupplyRaw, underlying.Decimals)
			value := amount * deref(price)
			summary.TotalSupplyUSD += value
			collateralUSD += value * market.CollateralFactor
			summary.Supplies = append(summary.Supplies, map[string]interface{}{
				"market":    market.Address,
				"symbol":    market.Symbol,
				"token":     underlying.Symbol,
				"amount":    amount,
				"value_usd": value,
			})
		}
		if entry.BorrowRaw.Sign() > 0 {
			amount := adapters.ToFloat(entry.BorrowRaw, underlying.Decimals)
			value := amount * deref(price)
			summary.TotalBorrowUSD += value
			summary.Borrows = append(summary.Borrows, map[string]interface{}{
				"market":    market.Address,
				"symbol":    market.Symbol,
				"token":     underlying.Symbol,
				"amount":    amount,
				"value_usd": value,
			})
		}
	}

	summary.NetValueUSD = summary.TotalSupplyUSD - summary.TotalBorrowUSD
	if hf, ok := adapters.HealthFactor(collateralUSD, summary.TotalBorrowUSD); ok {
		summary.HealthFactor = hf
	}
	return summary, nil
}

// getDefiPositions serves the combined VVS + Tectonic view.
func getDefiPositions(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	address := StringArg(args, "address")
	owner := common.HexToAddress(address)

	vvs, err := vvsPositions(ctx, deps, owner)
	if err != nil {
		return nil, err
	}
	tectonic, err := tectonicPosition(ctx, deps, owner)
	if err != nil {
		return nil, err
	}

	if BoolArg(args, "simple_mode") {
		hf := "no borrows"
		if v, ok := tectonic.HealthFactor.(float64); ok {
			hf = fmt.Sprintf("health factor %.2f", v)
		}
		return simpleResult(fmt.Sprintf(
			"Address %s has $%.2f in VVS liquidity with $%.2f pending rewards, and on Tectonic supplies $%.2f against $%.2f borrowed (%s).",
			address, vvs.TotalLiquidityUSD, vvs.TotalPendingRewardsUSD,
			tectonic.TotalSupplyUSD, tectonic.TotalBorrowUSD, hf,
		)), nil
	}

	return map[string]interface{}{
		"address":  address,
		"vvs":      vvs,
		"tectonic": tectonic,
	}, nil
}

// getHealthAlerts surfaces lending positions with a health factor below 1.5.
func getHealthAlerts(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	address := StringArg(args, "address")
	position, err := tectonicPosition(ctx, deps, common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	alerts := []map[string]interface{}{}
	if hf, ok := position.HealthFactor.(float64); ok && hf < 1.5 {
		severity := "warning"
		if hf < 1.1 {
			severity = "critical"
		}
		alerts = append(alerts, map[string]interface{}{
			"protocol":      protocolTectonic,
			"health_factor": hf,
			"severity":      severity,
			"borrow_usd":    position.TotalBorrowUSD,
			"message":       fmt.Sprintf("Tectonic position health factor %.3f is below 1.5", hf),
		})
	}

	return map[string]interface{}{
		"address": address,
		"alerts":  alerts,
	}, nil
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
