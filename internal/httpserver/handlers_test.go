package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/config"
	"github.com/CroLens/server/internal/evmrpc"
	"github.com/CroLens/server/internal/gateway"
	"github.com/CroLens/server/internal/kvcache"
	"github.com/CroLens/server/internal/mcp"
	"github.com/CroLens/server/internal/requestlog"
	"github.com/CroLens/server/internal/tools"
	"github.com/CroLens/server/internal/x402"
)

const testPaymentAddr = "0x00000000000000000000000000000000000000A1"

type env struct {
	server   *Server
	store    *catalog.MemoryStore
	upstream *int64
}

// newEnv assembles a server over memory backends and a canned upstream.
func newEnv(t *testing.T, upstreamResults map[string]string) *env {
	t.Helper()

	var upstreamCalls int64
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&upstreamCalls, 1)
		var frame struct {
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&frame)
		result, ok := upstreamResults[frame.Method]
		if !ok {
			result = "null"
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
	t.Cleanup(fake.Close)

	cfg := &config.Config{}
	cfg.Server.Address = ":0"
	cfg.Server.RequestLogSampleRate = 1.0
	cfg.Chain.ChainID = 25
	cfg.Chain.NativeSymbol = "CRO"
	cfg.RateLimit.JSONRPCPerWindow = 5
	cfg.RateLimit.JSONRPCWindow = config.Duration{Duration: 60 * time.Second}
	cfg.RateLimit.FreePerHour = 100
	cfg.RateLimit.QuotePerMin = 30
	cfg.RateLimit.VerifyPerMin = 10

	store := catalog.NewMemoryStore()
	cache := kvcache.NewMemoryCache()
	rpc := evmrpc.New(evmrpc.Config{UpstreamURL: fake.URL, Timeout: 2 * time.Second}, nil, nil)

	payments := x402.New(x402.Config{
		ChainID:           25,
		PaymentAddress:    testPaymentAddr,
		TopupCredits:      1000,
		PricePerCreditWei: "1000000000000000",
	}, store, rpc, nil)

	gw := gateway.New(gateway.Config{
		DefaultCredits:   50,
		FreeTools:        []string{"get_gas_price"},
		ProTools:         []string{"simulate_transaction"},
		JSONRPCPerWindow: cfg.RateLimit.JSONRPCPerWindow,
		JSONRPCWindow:    cfg.RateLimit.JSONRPCWindow.Duration,
		FreePerHour:      cfg.RateLimit.FreePerHour,
	}, store, cache, payments, nil)

	dispatcher := mcp.New(tools.NewRegistry(), &tools.Deps{
		Store:        store,
		RPC:          rpc,
		ChainID:      25,
		NativeSymbol: "CRO",
	}, nil, 10*time.Second)

	server := New(Deps{
		Config:     cfg,
		Version:    "test",
		Dispatcher: dispatcher,
		Gateway:    gw,
		Payments:   payments,
		Store:      store,
		Cache:      cache,
		RPC:        rpc,
		ReqLog:     requestlog.New(store, 1.0, zerolog.Nop()),
		Logger:     zerolog.Nop(),
	})

	return &env{server: server, store: store, upstream: &upstreamCalls}
}

func (e *env) do(t *testing.T, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

// S1: first sighting of an unknown key auto-provisions a free row.
func TestX402Status_FirstSighting(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(t, "GET", "/x402/status", "", map[string]string{"x-api-key": "cl_sk_test_new_42"})

	if w.Code != 200 {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["api_key"] != "cl_sk_test_new_42" || body["tier"] != "free" || body["credits"] != float64(50) {
		t.Errorf("body = %v", body)
	}
}

func TestX402Status_MissingKey(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(t, "GET", "/x402/status", "", nil)
	if w.Code != 400 {
		t.Errorf("status = %d", w.Code)
	}
	if decodeBody(t, w)["error"] != "Missing x-api-key" {
		t.Errorf("body = %s", w.Body.String())
	}
}

// S2: zero credits on a billed tool call yields 402 / -32002 with a quote.
func TestToolCall_ZeroCredits(t *testing.T) {
	e := newEnv(t, nil)
	e.store.CreateAPIKey(context.Background(), catalog.APIKey{
		Key: "cl_sk_test_free_zero", Tier: catalog.TierFree, Credits: 0, IsActive: true,
		DailyResetAt: time.Now().Add(24 * time.Hour), CreatedAt: time.Now(),
	})

	frame := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_account_summary","arguments":{"address":"0x5C7F8A570d578ED84E63fdFA7b1eE72dEae1AE23"}}}`
	w := e.do(t, "POST", "/", frame, map[string]string{"x-api-key": "cl_sk_test_free_zero"})

	if w.Code != 402 {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	errObj := body["error"].(map[string]interface{})
	if errObj["code"] != float64(-32002) {
		t.Errorf("code = %v", errObj["code"])
	}
	data := errObj["data"].(map[string]interface{})
	if data["chain_id"] != float64(25) {
		t.Errorf("chain_id = %v", data["chain_id"])
	}
	if data["payment_address"] != testPaymentAddr {
		t.Errorf("payment_address = %v", data["payment_address"])
	}
}

// S3: valid payment credits once, replays return already_credited.
func TestX402Verify_CreditAndReplay(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)
	e := newEnv(t, map[string]string{
		"eth_getTransactionByHash":  `{"hash":"` + hash + `","from":"0x00000000000000000000000000000000000000b2","to":"` + testPaymentAddr + `","value":"0xde0b6b3a7640000","input":"0x","nonce":"0x1"}`,
		"eth_getTransactionReceipt": `{"transactionHash":"` + hash + `","status":"0x1","gasUsed":"0x5208"}`,
	})

	body := `{"tx_hash":"` + hash + `"}`
	headers := map[string]string{"x-api-key": "cl_sk_payer", "Content-Type": "application/json"}

	w := e.do(t, "POST", "/x402/verify", body, headers)
	if w.Code != 200 {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	first := decodeBody(t, w)
	if first["status"] != "credited" || first["credits_added"] != float64(1000) || first["tier"] != "pro" {
		t.Errorf("first verify = %v", first)
	}

	w = e.do(t, "POST", "/x402/verify", body, headers)
	if w.Code != 200 {
		t.Fatalf("replay status = %d", w.Code)
	}
	replay := decodeBody(t, w)
	if replay["status"] != "already_credited" || replay["credits_added"] != float64(0) {
		t.Errorf("replay = %v", replay)
	}
	if replay["credits"] != first["credits"] {
		t.Errorf("credits drifted: %v vs %v", replay["credits"], first["credits"])
	}
}

// S4: wrong recipient is rejected with the exact message.
func TestX402Verify_WrongRecipient(t *testing.T) {
	hash := "0x" + strings.Repeat("cd", 32)
	e := newEnv(t, map[string]string{
		"eth_getTransactionByHash":  `{"hash":"` + hash + `","from":"0x00000000000000000000000000000000000000b2","to":"0x00000000000000000000000000000000000000c3","value":"0xde0b6b3a7640000","input":"0x","nonce":"0x1"}`,
		"eth_getTransactionReceipt": `{"transactionHash":"` + hash + `","status":"0x1","gasUsed":"0x5208"}`,
	})

	w := e.do(t, "POST", "/x402/verify", `{"tx_hash":"`+hash+`"}`, map[string]string{"x-api-key": "cl_sk_payer"})
	if w.Code != 400 {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "rejected" {
		t.Errorf("status = %v", body["status"])
	}
	errObj := body["error"].(map[string]interface{})
	if errObj["message"] != "Transaction recipient mismatch" {
		t.Errorf("message = %v", errObj["message"])
	}
}

// S5: the (L+1)-th JSON-RPC call from one IP gets 429 with Retry-After.
func TestJSONRPC_RateLimit(t *testing.T) {
	e := newEnv(t, map[string]string{"eth_gasPrice": `"0x3b9aca00"`})
	headers := map[string]string{"x-api-key": "cl_sk_rl", "CF-Connecting-IP": "9.9.9.9"}
	frame := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_gas_price","arguments":{}}}`

	for i := 0; i < 5; i++ {
		w := e.do(t, "POST", "/", frame, headers)
		if w.Code != 200 {
			t.Fatalf("call %d status = %d body=%s", i, w.Code, w.Body.String())
		}
	}

	w := e.do(t, "POST", "/", frame, headers)
	if w.Code != 429 {
		t.Fatalf("limited call status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	body := decodeBody(t, w)
	errObj := body["error"].(map[string]interface{})
	if errObj["code"] != float64(-32003) {
		t.Errorf("code = %v", errObj["code"])
	}
	data := errObj["data"].(map[string]interface{})
	if _, ok := data["retry_after"]; !ok {
		t.Error("data.retry_after missing")
	}

	// Another IP is unaffected.
	w = e.do(t, "POST", "/", frame, map[string]string{"x-api-key": "cl_sk_rl2", "CF-Connecting-IP": "8.8.8.8"})
	if w.Code != 200 {
		t.Errorf("other ip status = %d", w.Code)
	}
}

// S6: invalid address yields -32602 and never touches the upstream.
func TestToolCall_InvalidAddress(t *testing.T) {
	e := newEnv(t, nil)
	frame := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"get_account_summary","arguments":{"address":"0xabc"}}}`
	w := e.do(t, "POST", "/", frame, map[string]string{"x-api-key": "cl_sk_v"})

	if w.Code != 400 {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	errObj := body["error"].(map[string]interface{})
	if errObj["code"] != float64(-32602) {
		t.Errorf("code = %v", errObj["code"])
	}
	if msg := errObj["message"].(string); !containsFold(msg, "invalid address") {
		t.Errorf("message = %q", msg)
	}
	if atomic.LoadInt64(e.upstream) != 0 {
		t.Error("upstream must not be touched on validation failure")
	}
	if body["id"] != float64(7) {
		t.Errorf("id not echoed: %v", body["id"])
	}
}

// Security headers appear verbatim on every response.
func TestSecurityHeaders_Everywhere(t *testing.T) {
	e := newEnv(t, map[string]string{"eth_blockNumber": `"0x10"`})

	responses := []*httptest.ResponseRecorder{
		e.do(t, "GET", "/health", "", nil),
		e.do(t, "GET", "/x402/status", "", nil), // 400 error path
		e.do(t, "POST", "/", `not json`, nil),   // -32600 path
		e.do(t, "GET", "/", "", nil),            // 405 path
	}

	want := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	}
	for i, w := range responses {
		for header, value := range want {
			if got := w.Header().Get(header); got != value {
				t.Errorf("response %d: %s = %q, want %q", i, header, got, value)
			}
		}
	}
}

// Trace propagation: a client-supplied x-request-id is echoed in meta.
func TestTracePropagation(t *testing.T) {
	e := newEnv(t, map[string]string{"eth_gasPrice": `"0x3b9aca00"`})
	frame := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_gas_price","arguments":{}}}`
	w := e.do(t, "POST", "/", frame, map[string]string{
		"x-api-key":    "cl_sk_trace",
		"x-request-id": "trace-me-42",
	})

	if w.Code != 200 {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	result := body["result"].(map[string]interface{})
	meta := result["meta"].(map[string]interface{})
	if meta["trace_id"] != "trace-me-42" {
		t.Errorf("meta.trace_id = %v", meta["trace_id"])
	}

	// Absent header: a fresh non-empty id.
	w = e.do(t, "POST", "/", frame, map[string]string{"x-api-key": "cl_sk_trace"})
	meta = decodeBody(t, w)["result"].(map[string]interface{})["meta"].(map[string]interface{})
	if meta["trace_id"] == "" {
		t.Error("generated trace id must be non-empty")
	}
}

// Billing exactness: success bills one credit, failure bills none.
func TestBillingExactness(t *testing.T) {
	e := newEnv(t, map[string]string{"eth_gasPrice": `"0x3b9aca00"`})
	ctx := context.Background()
	e.store.CreateAPIKey(ctx, catalog.APIKey{
		Key: "cl_sk_billing", Tier: catalog.TierFree, Credits: 10, IsActive: true,
		DailyResetAt: time.Now().Add(24 * time.Hour), CreatedAt: time.Now(),
	})

	// get_block_info is billed here; the upstream knows no blocks so the
	// call fails and must not bill.
	badFrame := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_block_info","arguments":{"block":"latest"}}}`
	w := e.do(t, "POST", "/", badFrame, map[string]string{"x-api-key": "cl_sk_billing"})
	if w.Code == 200 {
		t.Fatalf("expected failure, got 200: %s", w.Body.String())
	}
	rec, _ := e.store.GetAPIKey(ctx, "cl_sk_billing")
	if rec.Credits != 10 {
		t.Errorf("failed call billed: credits = %d", rec.Credits)
	}

	// search_contract succeeds against the memory store and bills one.
	okFrame := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_contract","arguments":{"query":"vvs"}}}`
	w = e.do(t, "POST", "/", okFrame, map[string]string{"x-api-key": "cl_sk_billing"})
	if w.Code != 200 {
		t.Fatalf("search status = %d body=%s", w.Code, w.Body.String())
	}
	rec, _ = e.store.GetAPIKey(ctx, "cl_sk_billing")
	if rec.Credits != 9 {
		t.Errorf("credits = %d, want 9", rec.Credits)
	}
}

func TestToolsList_NoAuthRequired(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(t, "POST", "/", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	result := decodeBody(t, w)["result"].(map[string]interface{})
	toolList := result["tools"].([]interface{})
	if len(toolList) == 0 {
		t.Fatal("empty tool list")
	}
	first := toolList[0].(map[string]interface{})
	for _, field := range []string{"name", "description", "inputSchema"} {
		if _, ok := first[field]; !ok {
			t.Errorf("tool entry missing %s", field)
		}
	}
}

func TestMissingAPIKeyHeader(t *testing.T) {
	e := newEnv(t, nil)
	frame := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_gas_price","arguments":{}}}`
	w := e.do(t, "POST", "/", frame, nil)
	if w.Code != 400 {
		t.Fatalf("status = %d", w.Code)
	}
	errObj := decodeBody(t, w)["error"].(map[string]interface{})
	if errObj["code"] != float64(-32602) || errObj["message"] != "Missing API key header" {
		t.Errorf("error = %v", errObj)
	}
}

func TestUnknownMethod(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(t, "POST", "/", `{"jsonrpc":"2.0","id":1,"method":"resources/read"}`, nil)
	if w.Code != 404 {
		t.Fatalf("status = %d", w.Code)
	}
	errObj := decodeBody(t, w)["error"].(map[string]interface{})
	if errObj["code"] != float64(-32601) {
		t.Errorf("code = %v", errObj["code"])
	}
}

func TestUnknownTool(t *testing.T) {
	e := newEnv(t, nil)
	frame := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_everything","arguments":{}}}`
	w := e.do(t, "POST", "/", frame, map[string]string{"x-api-key": "cl_sk_u"})
	if w.Code != 404 {
		t.Fatalf("status = %d", w.Code)
	}
	errObj := decodeBody(t, w)["error"].(map[string]interface{})
	if errObj["code"] != float64(-32601) {
		t.Errorf("code = %v", errObj["code"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t, map[string]string{"eth_blockNumber": `"0x10"`})
	w := e.do(t, "GET", "/health", "", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	checks := body["checks"].(map[string]interface{})
	for _, name := range []string{"db", "kv", "rpc"} {
		if _, ok := checks[name]; !ok {
			t.Errorf("check %s missing", name)
		}
	}
}

func TestCORS_EmptyAllowListDeniesBrowsers(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(t, "GET", "/health", "", map[string]string{"Origin": "https://evil.example"})
	if w.Code != 403 {
		t.Errorf("status = %d, browser origins must be denied with an empty allow-list", w.Code)
	}

	// Non-browser clients pass.
	w = e.do(t, "GET", "/health", "", nil)
	if w.Code != 200 {
		t.Errorf("non-browser status = %d", w.Code)
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
