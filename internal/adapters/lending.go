package adapters

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/evmrpc"
	"github.com/CroLens/server/internal/multicall"
)

// Blocks per year on Cronos (~6s block time), used to annualize the
// per-block rates CompoundV2-style markets expose.
const blocksPerYear = 5_256_000

// LendingAdapter reads CompoundV2-style markets and comptrollers.
type LendingAdapter struct {
	client *evmrpc.Client
	mc     *multicall.Caller
}

// NewLendingAdapter builds the lending adapter over the shared infra clients.
func NewLendingAdapter(client *evmrpc.Client, mc *multicall.Caller) *LendingAdapter {
	return &LendingAdapter{client: client, mc: mc}
}

// MarketState is the global state of one market.
type MarketState struct {
	Market         common.Address
	SupplyAPY      float64
	BorrowAPY      float64
	CashRaw        *big.Int
	TotalBorrowRaw *big.Int
}

// AccountEntry is one market's view of a user: underlying supplied and borrowed.
type AccountEntry struct {
	Market    common.Address
	SupplyRaw *big.Int // balanceOfUnderlying
	BorrowRaw *big.Int // borrowBalanceStored
}

// MarketStates reads rates and liquidity for all markets in one aggregate.
func (l *LendingAdapter) MarketStates(ctx context.Context, markets []common.Address) ([]MarketState, error) {
	supplyRateData, _ := ctokenABI.Pack("supplyRatePerBlock")
	borrowRateData, _ := ctokenABI.Pack("borrowRatePerBlock")
	cashData, _ := ctokenABI.Pack("getCash")
	borrowsData, _ := ctokenABI.Pack("totalBorrows")

	calls := make([]multicall.Call, 0, len(markets)*4)
	for _, m := range markets {
		calls = append(calls,
			multicall.Call{Target: m, Data: supplyRateData},
			multicall.Call{Target: m, Data: borrowRateData},
			multicall.Call{Target: m, Data: cashData},
			multicall.Call{Target: m, Data: borrowsData},
		)
	}

	results, err := l.mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}

	out := make([]MarketState, len(markets))
	for i, m := range markets {
		state := MarketState{Market: m, CashRaw: big.NewInt(0), TotalBorrowRaw: big.NewInt(0)}
		base := i * 4
		if results[base].Success {
			if rate, err := DecodeUint256(results[base].Data); err == nil {
				state.SupplyAPY = annualizeRate(rate)
			}
		}
		if results[base+1].Success {
			if rate, err := DecodeUint256(results[base+1].Data); err == nil {
				state.BorrowAPY = annualizeRate(rate)
			}
		}
		if results[base+2].Success {
			if cash, err := DecodeUint256(results[base+2].Data); err == nil {
				state.CashRaw = cash
			}
		}
		if results[base+3].Success {
			if borrows, err := DecodeUint256(results[base+3].Data); err == nil {
				state.TotalBorrowRaw = borrows
			}
		}
		out[i] = state
	}
	return out, nil
}

// AccountEntries reads each market's supply and borrow balances for a user
// in one aggregate. Markets that fail to read are returned with zero values
// rather than failing the whole account view.
func (l *LendingAdapter) AccountEntries(ctx context.Context, markets []common.Address, user common.Address) ([]AccountEntry, error) {
	calls := make([]multicall.Call, 0, len(markets)*2)
	for _, m := range markets {
		supplyData, _ := ctokenABI.Pack("balanceOfUnderlying", user)
		borrowData, _ := ctokenABI.Pack("borrowBalanceStored", user)
		calls = append(calls,
			multicall.Call{Target: m, Data: supplyData},
			multicall.Call{Target: m, Data: borrowData},
		)
	}

	results, err := l.mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}

	out := make([]AccountEntry, len(markets))
	for i, m := range markets {
		entry := AccountEntry{Market: m, SupplyRaw: big.NewInt(0), BorrowRaw: big.NewInt(0)}
		if results[i*2].Success {
			if supply, err := DecodeUint256(results[i*2].Data); err == nil {
				entry.SupplyRaw = supply
			}
		}
		if results[i*2+1].Success {
			if borrow, err := DecodeUint256(results[i*2+1].Data); err == nil {
				entry.BorrowRaw = borrow
			}
		}
		out[i] = entry
	}
	return out, nil
}

// AccountLiquidity reads the comptroller's (error, liquidity, shortfall)
// triple for a user.
func (l *LendingAdapter) AccountLiquidity(ctx context.Context, comptroller, user common.Address) (liquidity, shortfall *big.Int, err error) {
	data, _ := comptrollerABI.Pack("getAccountLiquidity", user)
	out, err := l.client.EthCall(ctx, evmrpc.CallArgs{To: comptroller, Data: data})
	if err != nil {
		return nil, nil, err
	}
	unpacked, err := comptrollerABI.Unpack("getAccountLiquidity", out)
	if err != nil {
		return nil, nil, err
	}
	return unpacked[1].(*big.Int), unpacked[2].(*big.Int), nil
}

// HealthFactor derives the Compound-style ratio of discounted collateral to
// borrows. The second return is false when there are no borrows, in which
// case callers report the sentinel "∞".
func HealthFactor(collateralUSD, borrowUSD float64) (float64, bool) {
	if borrowUSD <= 0 {
		return 0, false
	}
	return collateralUSD / borrowUSD, true
}

// annualizeRate converts a 1e18-scaled per-block rate to a simple APY percentage.
func annualizeRate(perBlock *big.Int) float64 {
	rate := ToFloat(perBlock, 18)
	return rate * blocksPerYear * 100
}
