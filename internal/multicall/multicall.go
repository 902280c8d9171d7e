// Package multicall batches independent contract reads into single
// aggregate3 invocations against the canonical Multicall3 contract.
package multicall

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/evmrpc"
)

const aggregate3ABI = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

// Call is one read to batch: target contract and ABI-encoded calldata.
type Call struct {
	Target common.Address
	Data   []byte
}

// Result pairs the raw return bytes with the per-call success flag.
// Index positions match the submitted calls exactly.
type Result struct {
	Success bool
	Data    []byte
}

// Caller batches reads through one Multicall3 deployment.
type Caller struct {
	contract common.Address
	client   *evmrpc.Client
	parsed   abi.ABI
}

// call3 mirrors the Multicall3.Call3 tuple for ABI packing.
type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// New builds a Caller against the given Multicall3 address.
func New(contract common.Address, client *evmrpc.Client) (*Caller, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregate3ABI))
	if err != nil {
		return nil, fmt.Errorf("parse multicall abi: %w", err)
	}
	return &Caller{contract: contract, client: client, parsed: parsed}, nil
}

// Aggregate executes all calls in one aggregate3 invocation, preserving
// order. Each sub-call may fail independently; a failure of the aggregate
// call itself is returned as a single error.
func (c *Caller) Aggregate(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	packed := make([]call3, len(calls))
	for i, call := range calls {
		packed[i] = call3{Target: call.Target, AllowFailure: true, CallData: call.Data}
	}

	data, err := c.parsed.Pack("aggregate3", packed)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	raw, err := c.client.EthCall(ctx, evmrpc.CallArgs{To: c.contract, Data: data})
	if err != nil {
		return nil, err
	}

	unpacked, err := c.parsed.Unpack("aggregate3", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("unexpected aggregate3 output arity %d", len(unpacked))
	}

	tuples, ok := unpacked[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	if !ok {
		return nil, fmt.Errorf("unexpected aggregate3 output type %T", unpacked[0])
	}
	if len(tuples) != len(calls) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(tuples), len(calls))
	}

	results := make([]Result, len(tuples))
	for i, tup := range tuples {
		results[i] = Result{Success: tup.Success, Data: tup.ReturnData}
	}
	return results, nil
}
