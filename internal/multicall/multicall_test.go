package multicall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/CroLens/server/internal/evmrpc"
)

// encodeAggregateResults ABI-encodes an aggregate3 return payload the way the
// on-chain contract would.
func encodeAggregateResults(t *testing.T, results []Result) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(aggregate3ABI))
	if err != nil {
		t.Fatal(err)
	}
	tuples := make([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	}, len(results))
	for i, r := range results {
		tuples[i].Success = r.Success
		tuples[i].ReturnData = r.Data
	}
	out, err := parsed.Methods["aggregate3"].Outputs.Pack(tuples)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func fakeNode(t *testing.T, encoded []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var frame struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
			t.Fatal(err)
		}
		if frame.Method != "eth_call" {
			t.Errorf("unexpected method %s", frame.Method)
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  hexutil.Encode(encoded),
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestAggregate_PreservesOrderAndFlags(t *testing.T) {
	want := []Result{
		{Success: true, Data: common.LeftPadBytes([]byte{0x2a}, 32)},
		{Success: false, Data: nil},
		{Success: true, Data: common.LeftPadBytes([]byte{0x07}, 32)},
	}
	srv := fakeNode(t, encodeAggregateResults(t, want))
	defer srv.Close()

	client := evmrpc.New(evmrpc.Config{UpstreamURL: srv.URL, Timeout: 2 * time.Second}, nil, nil)
	caller, err := New(common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11"), client)
	if err != nil {
		t.Fatal(err)
	}

	target := common.HexToAddress("0x2222222222222222222222222222222222222222")
	calls := []Call{
		{Target: target, Data: []byte{0x70, 0xa0, 0x82, 0x31}},
		{Target: target, Data: []byte{0x18, 0x16, 0x0d, 0xdd}},
		{Target: target, Data: []byte{0x95, 0xd8, 0x9b, 0x41}},
	}

	got, err := caller.Aggregate(context.Background(), calls)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results", len(got))
	}
	for i := range want {
		if got[i].Success != want[i].Success {
			t.Errorf("result %d success = %v, want %v", i, got[i].Success, want[i].Success)
		}
		if string(got[i].Data) != string(want[i].Data) {
			t.Errorf("result %d payload mismatch", i)
		}
	}
}

func TestAggregate_Empty(t *testing.T) {
	client := evmrpc.New(evmrpc.Config{UpstreamURL: "http://127.0.0.1:0", Timeout: time.Second}, nil, nil)
	caller, err := New(common.Address{}, client)
	if err != nil {
		t.Fatal(err)
	}
	got, err := caller.Aggregate(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("empty input should produce no results and no upstream call")
	}
}
