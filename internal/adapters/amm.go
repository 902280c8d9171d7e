// Package adapters translates DeFi protocol contracts into canonical
// domain-shaped values. Two adapter variants exist, selected by the
// protocol's adapter_type: the UniswapV2-style AMM adapter and the
// CompoundV2-style lending adapter.
package adapters

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/evmrpc"
	"github.com/CroLens/server/internal/multicall"
)

// AdapterTypeAMM selects the UniswapV2-style adapter.
const AdapterTypeAMM = "uniswap_v2_amm"

// AdapterTypeLending selects the CompoundV2-style adapter.
const AdapterTypeLending = "compound_v2_lending"

// AMMAdapter reads UniswapV2-style pairs, routers, and MasterChef farms.
type AMMAdapter struct {
	client *evmrpc.Client
	mc     *multicall.Caller
}

// NewAMMAdapter builds the AMM adapter over the shared infra clients.
func NewAMMAdapter(client *evmrpc.Client, mc *multicall.Caller) *AMMAdapter {
	return &AMMAdapter{client: client, mc: mc}
}

// PairState is the full on-chain state of one pair.
type PairState struct {
	Pair        common.Address
	Token0      common.Address
	Token1      common.Address
	Reserve0    *big.Int
	Reserve1    *big.Int
	TotalSupply *big.Int
}

// PairState reads token0/token1/getReserves/totalSupply in one aggregate.
func (a *AMMAdapter) PairState(ctx context.Context, pair common.Address) (PairState, error) {
	token0Data, _ := pairABI.Pack("token0")
	token1Data, _ := pairABI.Pack("token1")
	reservesData, _ := pairABI.Pack("getReserves")
	supplyData, _ := pairABI.Pack("totalSupply")

	results, err := a.mc.Aggregate(ctx, []multicall.Call{
		{Target: pair, Data: token0Data},
		{Target: pair, Data: token1Data},
		{Target: pair, Data: reservesData},
		{Target: pair, Data: supplyData},
	})
	if err != nil {
		return PairState{}, err
	}
	for i, r := range results {
		if !r.Success || len(r.Data) < 32 {
			return PairState{}, fmt.Errorf("pair read %d failed for %s", i, pair.Hex())
		}
	}

	state := PairState{Pair: pair}
	state.Token0 = common.BytesToAddress(results[0].Data[12:32])
	state.Token1 = common.BytesToAddress(results[1].Data[12:32])

	reserves, err := pairABI.Unpack("getReserves", results[2].Data)
	if err != nil {
		return PairState{}, fmt.Errorf("unpack reserves: %w", err)
	}
	state.Reserve0 = reserves[0].(*big.Int)
	state.Reserve1 = reserves[1].(*big.Int)

	if state.TotalSupply, err = DecodeUint256(results[3].Data); err != nil {
		return PairState{}, err
	}
	return state, nil
}

// QuoteOut applies the constant-product formula with the 0.3% LP fee, the
// same math the router uses for a single hop.
func QuoteOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(1000)), amountInWithFee)
	return new(big.Int).Quo(numerator, denominator)
}

// RouterQuote asks the router for the output amounts along a path.
func (a *AMMAdapter) RouterQuote(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	out, err := a.client.EthCall(ctx, evmrpc.CallArgs{To: router, Data: data})
	if err != nil {
		return nil, err
	}
	unpacked, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	amounts, ok := unpacked[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getAmountsOut type %T", unpacked[0])
	}
	return amounts, nil
}

// SwapCalldata encodes swapExactTokensForTokens with slippage already
// applied via amountOutMin.
func SwapCalldata(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	return routerABI.Pack("swapExactTokensForTokens", amountIn, amountOutMin, path, to, deadline)
}

// LPValueUSD computes the USD value of an LP holding given pair state, the
// holder's LP balance, per-token USD prices, and token decimals.
func LPValueUSD(state PairState, lpBalance *big.Int, price0, price1 float64, decimals0, decimals1 uint8) float64 {
	if state.TotalSupply == nil || state.TotalSupply.Sign() == 0 || lpBalance == nil || lpBalance.Sign() == 0 {
		return 0
	}
	share := new(big.Float).Quo(new(big.Float).SetInt(lpBalance), new(big.Float).SetInt(state.TotalSupply))
	shareF, _ := share.Float64()

	value0 := ToFloat(state.Reserve0, decimals0) * price0
	value1 := ToFloat(state.Reserve1, decimals1) * price1
	return (value0 + value1) * shareF
}

// FarmPosition is one staked MasterChef position.
type FarmPosition struct {
	PoolID        uint64
	LPToken       common.Address
	StakedAmount  *big.Int
	PendingReward *big.Int
}

// FarmPoolCount reads poolLength from the MasterChef.
func (a *AMMAdapter) FarmPoolCount(ctx context.Context, masterchef common.Address) (uint64, error) {
	data, _ := masterchefABI.Pack("poolLength")
	out, err := a.client.EthCall(ctx, evmrpc.CallArgs{To: masterchef, Data: data})
	if err != nil {
		return 0, err
	}
	n, err := DecodeUint256(out)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// FarmPositions reads userInfo and pendingVVS for the given pool ids in one
// aggregate and keeps only the non-zero stakes.
func (a *AMMAdapter) FarmPositions(ctx context.Context, masterchef, user common.Address, poolIDs []uint64, lpTokens []common.Address) ([]FarmPosition, error) {
	if len(poolIDs) != len(lpTokens) {
		return nil, fmt.Errorf("pool ids and lp tokens length mismatch")
	}
	calls := make([]multicall.Call, 0, len(poolIDs)*2)
	for _, pid := range poolIDs {
		userData, _ := masterchefABI.Pack("userInfo", new(big.Int).SetUint64(pid), user)
		pendingData, _ := masterchefABI.Pack("pendingVVS", new(big.Int).SetUint64(pid), user)
		calls = append(calls,
			multicall.Call{Target: masterchef, Data: userData},
			multicall.Call{Target: masterchef, Data: pendingData},
		)
	}

	results, err := a.mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}

	var positions []FarmPosition
	for i, pid := range poolIDs {
		userRes, pendingRes := results[i*2], results[i*2+1]
		if !userRes.Success {
			continue
		}
		unpacked, err := masterchefABI.Unpack("userInfo", userRes.Data)
		if err != nil {
			continue
		}
		staked := unpacked[0].(*big.Int)
		if staked.Sign() == 0 {
			continue
		}
		pos := FarmPosition{PoolID: pid, LPToken: lpTokens[i], StakedAmount: staked, PendingReward: big.NewInt(0)}
		if pendingRes.Success {
			if pending, err := DecodeUint256(pendingRes.Data); err == nil {
				pos.PendingReward = pending
			}
		}
		positions = append(positions, pos)
	}
	return positions, nil
}
