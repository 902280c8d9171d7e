package tools

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/evmrpc"
	"github.com/CroLens/server/internal/jsonrpc"
	"github.com/CroLens/server/internal/simulator"
)

// decodeTransaction fetches tx + receipt, labels the target from the
// contract catalog, and structures the calldata against known selectors.
func decodeTransaction(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	hash := StringArg(args, "tx_hash")

	tx, err := deps.RPC.GetTransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, jsonrpc.MethodNotFound("Transaction not found")
	}
	receipt, err := deps.RPC.GetTransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, err
	}

	status := "pending"
	gasUsed := uint64(0)
	if receipt != nil {
		gasUsed = uint64(receipt.GasUsed)
		if receipt.Status == 1 {
			status = "success"
		} else {
			status = "failed"
		}
	}

	var protocol interface{}
	var toAddr string
	if tx.To != nil {
		toAddr = tx.To.Hex()
		if contract, err := deps.Store.ContractByAddress(ctx, toAddr); err == nil {
			protocol = contract.ProtocolID
		} else if !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
	}

	decoded, _ := adapters.DecodeCalldata(tx.Input)
	action := decoded.MethodName
	if action == "transfer_native" && tx.Value != nil && tx.Value.ToInt().Sign() > 0 {
		action = "transfer"
	}

	if BoolArg(args, "simple_mode") {
		label := "an unlabeled contract"
		if protocol != nil {
			label = fmt.Sprintf("the %v protocol", protocol)
		}
		return simpleResult(fmt.Sprintf(
			"Transaction %s from %s calls %s on %s and is %s, using %d gas.",
			hash, tx.From.Hex(), decoded.MethodName, label, status, gasUsed,
		)), nil
	}

	return map[string]interface{}{
		"hash":     hash,
		"from":     tx.From.Hex(),
		"to":       toAddr,
		"action":   action,
		"protocol": protocol,
		"status":   status,
		"gas_used": gasUsed,
		"decoded": map[string]interface{}{
			"method_name": decoded.MethodName,
			"signature":   decoded.Signature,
			"params":      decoded.Params,
		},
	}, nil
}

// getTransactionStatus reports lifecycle state with confirmations.
func getTransactionStatus(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	hash := StringArg(args, "tx_hash")

	tx, err := deps.RPC.GetTransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return map[string]interface{}{"hash": hash, "status": "unknown", "confirmations": 0}, nil
	}

	receipt, err := deps.RPC.GetTransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return map[string]interface{}{"hash": hash, "status": "pending", "confirmations": 0}, nil
	}

	head, err := deps.RPC.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	confirmations := uint64(0)
	if receipt.BlockNumber != nil {
		mined := receipt.BlockNumber.ToInt().Uint64()
		if head >= mined {
			confirmations = head - mined + 1
		}
	}

	status := "success"
	if receipt.Status != 1 {
		status = "failed"
	}
	return map[string]interface{}{
		"hash":          hash,
		"status":        status,
		"confirmations": confirmations,
		"gas_used":      uint64(receipt.GasUsed),
	}, nil
}

// simulateTransaction runs the advisory simulation. With no simulator
// configured the tool degrades: simulation_available=false and success
// falls back to a best-effort eth_call outcome.
func simulateTransaction(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	from := StringArg(args, "from")
	to := StringArg(args, "to")
	data := StringArg(args, "data")
	value := StringArg(args, "value")

	if deps.Sim.Enabled() {
		result, err := deps.Sim.Simulate(ctx, simulator.Request{From: from, To: to, Data: data, Value: value})
		if err == nil {
			if BoolArg(args, "simple_mode") {
				verdict := "succeeds"
				if !result.Success {
					verdict = "reverts"
				}
				return simpleResult(fmt.Sprintf(
					"Simulation: the transaction %s using %d gas with %d state changes (risk: %s).",
					verdict, result.GasUsed, len(result.StateChanges), result.Risk,
				)), nil
			}
			return map[string]interface{}{
				"success":              result.Success,
				"simulation_available": true,
				"gas_estimated":        result.GasUsed,
				"state_changes":        result.StateChanges,
				"risk_assessment":      result.Risk,
				"revert_reason":        result.Revert,
			}, nil
		}
		// Simulator outage degrades the same way as absence.
	}

	callArgs, argErr := buildCallArgs(from, to, data, value)
	if argErr != nil {
		return nil, argErr
	}

	success := true
	gas := uint64(0)
	if estimated, err := deps.RPC.EstimateGas(ctx, callArgs); err == nil {
		gas = estimated
	} else {
		success = false
	}

	result := map[string]interface{}{
		"success":              success,
		"simulation_available": false,
		"gas_estimated":        gas,
		"state_changes":        []interface{}{},
		"risk_assessment":      "unavailable",
	}
	if BoolArg(args, "simple_mode") {
		verdict := "is expected to succeed"
		if !success {
			verdict = "is expected to revert"
		}
		return simpleResult(fmt.Sprintf(
			"No simulator is configured; a best-effort gas estimate says the transaction %s (gas %d).",
			verdict, gas,
		)), nil
	}
	return result, nil
}

// estimateTxCost prices a gas estimate in native units and USD.
func estimateTxCost(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	callArgs, argErr := buildCallArgs("", StringArg(args, "to"), StringArg(args, "data"), StringArg(args, "value"))
	if argErr != nil {
		return nil, argErr
	}

	gas, err := deps.RPC.EstimateGas(ctx, callArgs)
	if err != nil {
		return nil, err
	}
	gasPrice, err := deps.RPC.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	costWei := new(big.Int).Mul(gasPrice.ToInt(), new(big.Int).SetUint64(gas))
	costNative := adapters.ToFloat(costWei, 18)

	result := map[string]interface{}{
		"gas_estimated": gas,
		"gas_price_wei": gasPrice.ToInt().String(),
		"cost_wei":      costWei.String(),
		"cost_native":   costNative,
		"cost_usd":      nil,
	}
	if price := nativePrice(ctx, deps); price != nil {
		result["cost_usd"] = costNative * *price
	}
	return result, nil
}

// getGasPrice serves the current gas price.
func getGasPrice(ctx context.Context, deps *Deps, _ map[string]interface{}) (map[string]interface{}, error) {
	gasPrice, err := deps.RPC.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	wei := gasPrice.ToInt()
	return map[string]interface{}{
		"gas_price_wei":  wei.String(),
		"gas_price_gwei": adapters.ToFloat(wei, 9),
	}, nil
}

// getBlockInfo serves a block header by number or tag.
func getBlockInfo(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	tag := StringArg(args, "block")
	if tag == "" {
		tag = "latest"
	} else if tag != "latest" {
		n, ok := new(big.Int).SetString(tag, 10)
		if !ok {
			return nil, jsonrpc.InvalidParams(fmt.Sprintf("Invalid block %q", tag))
		}
		tag = hexutil.EncodeBig(n)
	}

	block, err := deps.RPC.GetBlockByNumber(ctx, tag)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, jsonrpc.MethodNotFound("Block not found")
	}

	result := map[string]interface{}{
		"number":            block.Number.ToInt().Uint64(),
		"hash":              block.Hash.Hex(),
		"parent_hash":       block.ParentHash.Hex(),
		"timestamp":         uint64(block.Timestamp),
		"gas_used":          uint64(block.GasUsed),
		"gas_limit":         uint64(block.GasLimit),
		"transaction_count": len(block.Transactions),
	}
	if block.BaseFee != nil {
		result["base_fee_wei"] = block.BaseFee.ToInt().String()
	}
	return result, nil
}

// getCROOverview bundles price, height, and gas into one chain snapshot.
func getCROOverview(ctx context.Context, deps *Deps, _ map[string]interface{}) (map[string]interface{}, error) {
	head, err := deps.RPC.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	gasPrice, err := deps.RPC.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"chain_id":       deps.ChainID,
		"symbol":         deps.NativeSymbol,
		"price_usd":      priceOrNil(nativePrice(ctx, deps)),
		"block_height":   head,
		"gas_price_gwei": adapters.ToFloat(gasPrice.ToInt(), 9),
	}, nil
}

// buildCallArgs assembles eth_call arguments from tool inputs.
func buildCallArgs(from, to, data, value string) (callArgs evmrpc.CallArgs, err *jsonrpc.Error) {
	callArgs.To = common.HexToAddress(to)
	if from != "" {
		addr := common.HexToAddress(from)
		callArgs.From = &addr
	}
	if data != "" {
		decoded, decodeErr := hexutil.Decode(data)
		if decodeErr != nil {
			return callArgs, jsonrpc.InvalidParams("Invalid hex data")
		}
		callArgs.Data = decoded
	}
	if value != "" {
		amount, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return callArgs, jsonrpc.InvalidParams(fmt.Sprintf("Invalid value %q", value))
		}
		callArgs.Value = (*hexutil.Big)(amount)
	}
	return callArgs, nil
}
