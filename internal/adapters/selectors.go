package adapters

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// knownMethods maps 4-byte selectors onto the methods of every contract
// family the adapters understand, built once at init.
var knownMethods = buildSelectorTable()

func buildSelectorTable() map[[4]byte]abi.Method {
	table := make(map[[4]byte]abi.Method)
	for _, parsed := range []abi.ABI{erc20ABI, pairABI, routerABI, masterchefABI, ctokenABI, comptrollerABI} {
		for _, method := range parsed.Methods {
			var sel [4]byte
			copy(sel[:], method.ID)
			table[sel] = method
		}
	}
	return table
}

// DecodedCall is the structured view of a transaction's calldata.
type DecodedCall struct {
	MethodName string                 `json:"method_name"`
	Signature  string                 `json:"signature"`
	Params     map[string]interface{} `json:"params"`
}

// DecodeCalldata parses the 4-byte selector against the known-method table
// and structures the inputs. Unknown selectors return ok=false with the raw
// selector preserved for display.
func DecodeCalldata(data []byte) (DecodedCall, bool) {
	if len(data) < 4 {
		return DecodedCall{MethodName: "transfer_native", Params: map[string]interface{}{}}, len(data) == 0
	}

	var sel [4]byte
	copy(sel[:], data[:4])
	method, ok := knownMethods[sel]
	if !ok {
		return DecodedCall{
			MethodName: "unknown",
			Signature:  "0x" + hex.EncodeToString(sel[:]),
			Params:     map[string]interface{}{},
		}, false
	}

	decoded := DecodedCall{
		MethodName: method.Name,
		Signature:  method.Sig,
		Params:     map[string]interface{}{},
	}

	values, err := method.Inputs.UnpackValues(data[4:])
	if err != nil {
		return decoded, true
	}
	for i, input := range method.Inputs {
		name := input.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		decoded.Params[name] = renderValue(values[i])
	}
	return decoded, true
}

// renderValue flattens ABI values into JSON-friendly shapes.
func renderValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *big.Int:
		return val.String()
	case common.Address:
		return val.Hex()
	case []common.Address:
		out := make([]string, len(val))
		for i, a := range val {
			out[i] = a.Hex()
		}
		return out
	case []byte:
		return "0x" + hex.EncodeToString(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
