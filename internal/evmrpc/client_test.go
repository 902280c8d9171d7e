package evmrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/jsonrpc"
	"github.com/CroLens/server/internal/kvcache"
)

// fakeUpstream serves canned JSON-RPC responses keyed by method.
func fakeUpstream(t *testing.T, results map[string]string, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		var frame struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
			t.Errorf("decode request: %v", err)
		}
		result, ok := results[frame.Method]
		if !ok {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func newClient(url string, cache kvcache.Cache) *Client {
	return New(Config{
		UpstreamURL: url,
		MaxRetries:  2,
		Timeout:     2 * time.Second,
		CacheTTL:    time.Minute,
	}, cache, nil)
}

func TestClient_BlockNumber(t *testing.T) {
	var calls int64
	srv := fakeUpstream(t, map[string]string{"eth_blockNumber": `"0x10"`}, &calls)
	defer srv.Close()

	c := newClient(srv.URL, nil)
	n, err := c.BlockNumber(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 16 {
		t.Errorf("block number = %d, want 16", n)
	}
}

func TestClient_CacheThrough(t *testing.T) {
	var calls int64
	srv := fakeUpstream(t, map[string]string{"eth_getBalance": `"0xde0b6b3a7640000"`}, &calls)
	defer srv.Close()

	cache := kvcache.NewMemoryCache()
	c := newClient(srv.URL, cache)
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	ctx, witness := kvcache.WithWitness(context.Background())
	if _, err := c.GetBalance(ctx, addr); err != nil {
		t.Fatal(err)
	}
	if witness.Hit() {
		t.Error("first read must be a miss")
	}

	ctx2, witness2 := kvcache.WithWitness(context.Background())
	if _, err := c.GetBalance(ctx2, addr); err != nil {
		t.Fatal(err)
	}
	if !witness2.Hit() {
		t.Error("second read should be served from cache")
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("upstream called %d times, want 1", calls)
	}
}

func TestClient_BlockNumberNotCached(t *testing.T) {
	var calls int64
	srv := fakeUpstream(t, map[string]string{"eth_blockNumber": `"0x10"`}, &calls)
	defer srv.Close()

	c := newClient(srv.URL, kvcache.NewMemoryCache())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.BlockNumber(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if atomic.LoadInt64(&calls) != 3 {
		t.Errorf("eth_blockNumber must bypass the cache, upstream saw %d calls", calls)
	}
}

func TestClient_UpstreamErrorNotRetried(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, nil)
	_, err := c.EthCall(context.Background(), CallArgs{To: common.Address{}})
	if err == nil {
		t.Fatal("expected error")
	}
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.CodeUpstreamRPC {
		t.Errorf("expected -32500 upstream error, got %v", err)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("json-rpc error body must not be retried, upstream saw %d calls", calls)
	}
}

func TestClient_ServerErrorRetried(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, nil)
	n, err := c.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("expected recovery after retries: %v", err)
	}
	if n != 1 {
		t.Errorf("block number = %d", n)
	}
	if atomic.LoadInt64(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestClient_NilTransaction(t *testing.T) {
	var calls int64
	srv := fakeUpstream(t, map[string]string{"eth_getTransactionByHash": `null`}, &calls)
	defer srv.Close()

	c := newClient(srv.URL, nil)
	tx, err := c.GetTransactionByHash(context.Background(), common.Hash{})
	if err != nil {
		t.Fatal(err)
	}
	if tx != nil {
		t.Error("unknown transaction should decode to nil")
	}
}

func TestCacheable(t *testing.T) {
	if cacheable("eth_blockNumber", nil) {
		t.Error("eth_blockNumber must not be cacheable")
	}
	if cacheable("eth_call", []interface{}{map[string]string{}, "pending"}) {
		t.Error("pending-tagged calls must not be cacheable")
	}
	if !cacheable("eth_call", []interface{}{map[string]string{}, "latest"}) {
		t.Error("latest eth_call should be cacheable")
	}
	if !cacheable("eth_getTransactionReceipt", []interface{}{"0xabc"}) {
		t.Error("receipts should be cacheable")
	}
}
