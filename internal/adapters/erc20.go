package adapters

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/evmrpc"
	"github.com/CroLens/server/internal/multicall"
)

// BalanceOfCall builds a multicall entry reading an ERC-20 balance.
func BalanceOfCall(token, owner common.Address) multicall.Call {
	data, _ := erc20ABI.Pack("balanceOf", owner)
	return multicall.Call{Target: token, Data: data}
}

// AllowanceCall builds a multicall entry reading an ERC-20 allowance.
func AllowanceCall(token, owner, spender common.Address) multicall.Call {
	data, _ := erc20ABI.Pack("allowance", owner, spender)
	return multicall.Call{Target: token, Data: data}
}

// TotalSupplyCall builds a multicall entry reading an ERC-20 total supply.
func TotalSupplyCall(token common.Address) multicall.Call {
	data, _ := erc20ABI.Pack("totalSupply")
	return multicall.Call{Target: token, Data: data}
}

// ApproveCalldata encodes approve(spender, amount) for transaction construction.
func ApproveCalldata(spender common.Address, amount *big.Int) []byte {
	data, _ := erc20ABI.Pack("approve", spender, amount)
	return data
}

// DecodeUint256 unpacks a single uint256 return value.
func DecodeUint256(data []byte) (*big.Int, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("short return data: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:32]), nil
}

// TokenMeta is the on-chain identity of an ERC-20.
type TokenMeta struct {
	Symbol      string
	Name        string
	Decimals    uint8
	TotalSupply *big.Int
}

// ReadTokenMeta fetches symbol/name/decimals/totalSupply in one aggregate.
func ReadTokenMeta(ctx context.Context, mc *multicall.Caller, token common.Address) (TokenMeta, error) {
	symbolData, _ := erc20ABI.Pack("symbol")
	nameData, _ := erc20ABI.Pack("name")
	decimalsData, _ := erc20ABI.Pack("decimals")
	supplyData, _ := erc20ABI.Pack("totalSupply")

	results, err := mc.Aggregate(ctx, []multicall.Call{
		{Target: token, Data: symbolData},
		{Target: token, Data: nameData},
		{Target: token, Data: decimalsData},
		{Target: token, Data: supplyData},
	})
	if err != nil {
		return TokenMeta{}, err
	}

	var meta TokenMeta
	if results[0].Success {
		var symbol string
		if err := erc20ABI.UnpackIntoInterface(&symbol, "symbol", results[0].Data); err == nil {
			meta.Symbol = symbol
		}
	}
	if results[1].Success {
		var name string
		if err := erc20ABI.UnpackIntoInterface(&name, "name", results[1].Data); err == nil {
			meta.Name = name
		}
	}
	if results[2].Success {
		if raw, err := DecodeUint256(results[2].Data); err == nil {
			meta.Decimals = uint8(raw.Uint64())
		}
	}
	if results[3].Success {
		if raw, err := DecodeUint256(results[3].Data); err == nil {
			meta.TotalSupply = raw
		}
	}
	return meta, nil
}

// Allowance reads allowance(owner, spender) with a single eth_call.
func Allowance(ctx context.Context, client *evmrpc.Client, token, owner, spender common.Address) (*big.Int, error) {
	data, _ := erc20ABI.Pack("allowance", owner, spender)
	out, err := client.EthCall(ctx, evmrpc.CallArgs{To: token, Data: data})
	if err != nil {
		return nil, err
	}
	return DecodeUint256(out)
}

// ToFloat converts a raw token amount to a float with decimals applied.
// Precision loss beyond float64 is acceptable for display values; billing
// and crediting never flow through here.
func ToFloat(amount *big.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}
