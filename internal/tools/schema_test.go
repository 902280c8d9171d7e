package tools

import (
	"testing"

	"github.com/CroLens/server/internal/jsonrpc"
)

func TestValidate_AddressPattern(t *testing.T) {
	schema := ObjectSchema(map[string]Property{
		"address": AddressProp("account"),
	}, "address")

	if err := schema.Validate(map[string]interface{}{"address": "0x5C7F8A570d578ED84E63fdFA7b1eE72dEae1AE23"}); err != nil {
		t.Errorf("valid address rejected: %v", err)
	}

	for _, bad := range []string{"0xabc", "5C7F8A570d578ED84E63fdFA7b1eE72dEae1AE23", "0x5C7F8A570d578ED84E63fdFA7b1eE72dEae1AEZZ", ""} {
		err := schema.Validate(map[string]interface{}{"address": bad})
		if err == nil || err.Code != jsonrpc.CodeInvalidParams {
			t.Errorf("address %q: expected -32602, got %v", bad, err)
		}
	}
}

func TestValidate_Required(t *testing.T) {
	schema := ObjectSchema(map[string]Property{
		"tx_hash": TxHashProp("hash"),
	}, "tx_hash")

	err := schema.Validate(map[string]interface{}{})
	if err == nil || err.Code != jsonrpc.CodeInvalidParams {
		t.Errorf("missing required: %v", err)
	}
}

func TestValidate_UnknownArgument(t *testing.T) {
	schema := ObjectSchema(map[string]Property{})
	err := schema.Validate(map[string]interface{}{"bogus": 1})
	if err == nil {
		t.Error("unknown argument should be rejected")
	}
}

func TestValidate_NumberRange(t *testing.T) {
	schema := ObjectSchema(map[string]Property{
		"slippage_bps": NumberProp("slippage", 0, 5000),
	})

	if err := schema.Validate(map[string]interface{}{"slippage_bps": float64(50)}); err != nil {
		t.Errorf("valid slippage rejected: %v", err)
	}
	if err := schema.Validate(map[string]interface{}{"slippage_bps": float64(5001)}); err == nil {
		t.Error("slippage above 5000 should be rejected")
	}
	if err := schema.Validate(map[string]interface{}{"slippage_bps": float64(-1)}); err == nil {
		t.Error("negative slippage should be rejected")
	}
}

func TestValidate_StringLength(t *testing.T) {
	schema := ObjectSchema(map[string]Property{
		"query": StringProp("query", 200),
	}, "query")

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'a'
	}
	if err := schema.Validate(map[string]interface{}{"query": string(long)}); err == nil {
		t.Error("201-character query should be rejected")
	}
	if err := schema.Validate(map[string]interface{}{"query": "vvs"}); err != nil {
		t.Errorf("short query rejected: %v", err)
	}
}

func TestValidate_ArrayBounds(t *testing.T) {
	schema := ObjectSchema(map[string]Property{
		"tokens": ArrayProp("tokens", AddressProp("token"), 1, 20),
	}, "tokens")

	addr := "0x5C7F8A570d578ED84E63fdFA7b1eE72dEae1AE23"

	if err := schema.Validate(map[string]interface{}{"tokens": []interface{}{addr}}); err != nil {
		t.Errorf("single token rejected: %v", err)
	}
	if err := schema.Validate(map[string]interface{}{"tokens": []interface{}{}}); err == nil {
		t.Error("empty token list should be rejected")
	}

	many := make([]interface{}, 21)
	for i := range many {
		many[i] = addr
	}
	if err := schema.Validate(map[string]interface{}{"tokens": many}); err == nil {
		t.Error("21 tokens should be rejected")
	}
	if err := schema.Validate(map[string]interface{}{"tokens": []interface{}{"0xnope"}}); err == nil {
		t.Error("invalid item address should be rejected")
	}
}

func TestValidate_HexData(t *testing.T) {
	schema := ObjectSchema(map[string]Property{
		"data": HexDataProp("calldata"),
	})

	if err := schema.Validate(map[string]interface{}{"data": "0x"}); err != nil {
		t.Errorf("empty hex payload rejected: %v", err)
	}
	if err := schema.Validate(map[string]interface{}{"data": "0xdeadbeef"}); err != nil {
		t.Errorf("valid hex rejected: %v", err)
	}
	if err := schema.Validate(map[string]interface{}{"data": "deadbeef"}); err == nil {
		t.Error("missing 0x prefix should be rejected")
	}
}
