package tools

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// getAccountSummary assembles the full portfolio view: wallet balances via
// multicall, DeFi totals from both adapters, and the summed net worth.
func getAccountSummary(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	address := StringArg(args, "address")
	owner := common.HexToAddress(address)

	wallet, walletTotal, err := walletBalances(ctx, deps, owner)
	if err != nil {
		return nil, err
	}

	vvs, err := vvsPositions(ctx, deps, owner)
	if err != nil {
		return nil, err
	}
	tectonic, err := tectonicPosition(ctx, deps, owner)
	if err != nil {
		return nil, err
	}

	defiTotal := vvs.TotalLiquidityUSD + vvs.TotalPendingRewardsUSD + tectonic.NetValueUSD
	netWorth := walletTotal + defiTotal

	if BoolArg(args, "simple_mode") {
		return simpleResult(fmt.Sprintf(
			"Account %s holds %d wallet assets worth $%.2f, $%.2f in VVS liquidity and farms, and a net $%.2f Tectonic position, for a total net worth of $%.2f.",
			address, len(wallet), walletTotal, vvs.TotalLiquidityUSD+vvs.TotalPendingRewardsUSD, tectonic.NetValueUSD, netWorth,
		)), nil
	}

	return map[string]interface{}{
		"address":             address,
		"total_net_worth_usd": netWorth,
		"wallet":              wallet,
		"defi_summary": map[string]interface{}{
			"total_defi_value_usd": defiTotal,
			"vvs_liquidity_usd":    vvs.TotalLiquidityUSD,
			"vvs_rewards_usd":      vvs.TotalPendingRewardsUSD,
			"tectonic_net_usd":     tectonic.NetValueUSD,
		},
	}, nil
}

// getTokenBalances is the wallet slice of the account summary.
func getTokenBalances(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	owner := common.HexToAddress(StringArg(args, "address"))
	wallet, total, err := walletBalances(ctx, deps, owner)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"address":         StringArg(args, "address"),
		"balances":        wallet,
		"total_value_usd": total,
	}, nil
}

// getWalletHistorySummary reads activity indicators available without a
// historical index: nonce, balance, and whether the address is a contract.
func getWalletHistorySummary(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	address := StringArg(args, "address")
	owner := common.HexToAddress(address)

	nonce, err := deps.RPC.GetTransactionCount(ctx, owner)
	if err != nil {
		return nil, err
	}
	balance, err := deps.RPC.GetBalance(ctx, owner)
	if err != nil {
		return nil, err
	}
	code, err := deps.RPC.GetCode(ctx, owner)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"address":            address,
		"transactions_sent":  nonce,
		"native_balance_wei": balance.ToInt().String(),
		"is_contract":        len(code) > 0,
		"has_activity":       nonce > 0 || balance.ToInt().Sign() > 0,
	}, nil
}
