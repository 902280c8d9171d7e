// Package evmrpc is the JSON-RPC client for the single upstream EVM node.
// Reads are retried with backoff, guarded by a circuit breaker, and cached
// through the KV layer under rpc:* fingerprints.
package evmrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sony/gobreaker"

	"github.com/CroLens/server/internal/jsonrpc"
	"github.com/CroLens/server/internal/kvcache"
	"github.com/CroLens/server/internal/metrics"
)

// Config holds client construction options.
type Config struct {
	UpstreamURL string
	MaxRetries  int
	Timeout     time.Duration
	CacheTTL    time.Duration

	// Breaker options; a nil Breaker in Client means no breaker.
	BreakerEnabled             bool
	BreakerMaxRequests         uint32
	BreakerInterval            time.Duration
	BreakerTimeout             time.Duration
	BreakerConsecutiveFailures uint32
}

// Client performs JSON-RPC POSTs against the configured upstream.
type Client struct {
	url        string
	httpClient *http.Client
	cache      kvcache.Cache
	cacheTTL   time.Duration
	retry      retryConfig
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
}

// upstreamError is a well-formed JSON-RPC error body from the upstream node.
type upstreamError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream rpc error %d: %s", e.Code, e.Message)
}

// New builds a Client. cache may be nil to disable response caching.
func New(cfg Config, cache kvcache.Cache, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		url:        cfg.UpstreamURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		cacheTTL:   cfg.CacheTTL,
		retry:      retryConfig{maxRetries: cfg.MaxRetries, baseDelay: 100 * time.Millisecond},
		metrics:    m,
	}
	if cfg.BreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "upstream_rpc",
			MaxRequests: cfg.BreakerMaxRequests,
			Interval:    cfg.BreakerInterval,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerConsecutiveFailures
			},
		})
	}
	return c
}

// Call performs one JSON-RPC call, decoding the result into out.
// Cacheable method/param combinations are served from and stored into the KV
// cache; a cache hit marks the request's cache witness.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encode rpc request: %w", err)
	}

	var key string
	if c.cache != nil && cacheable(method, params) {
		key = kvcache.Fingerprint("rpc", body)
		if cached, err := c.cache.Get(ctx, key); err == nil {
			kvcache.MarkHit(ctx)
			c.metrics.ObserveCache("rpc", true)
			return decodeResult(cached, out)
		}
		c.metrics.ObserveCache("rpc", false)
	}

	raw, err := c.do(ctx, method, body)
	if err != nil {
		return translateErr(err)
	}

	if key != "" && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		// Side-channel: a failed cache write never fails the call. Null
		// results (unknown tx, unmined receipt) stay uncached so polling
		// flows observe the chain, not the cache.
		_ = c.cache.Set(ctx, key, raw, c.cacheTTL)
	}

	return decodeResult(raw, out)
}

// do runs the HTTP exchange under the breaker and retry policy, returning the
// raw result bytes.
func (c *Client) do(ctx context.Context, method string, body []byte) ([]byte, error) {
	op := func() ([]byte, error) {
		start := time.Now()
		raw, err := c.post(ctx, body)
		c.metrics.ObserveRPC(method, time.Since(start), err)
		return raw, err
	}

	if c.breaker == nil {
		return WithRetry(ctx, c.retry, op)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return WithRetry(ctx, c.retry, op)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// post performs a single HTTP POST and extracts the result payload.
func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected upstream status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	var frame struct {
		Result json.RawMessage `json:"result"`
		Error  *upstreamError  `json:"error"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	if frame.Error != nil {
		return nil, frame.Error
	}
	return frame.Result, nil
}

func decodeResult(raw []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode rpc result: %w", err)
	}
	return nil
}

// translateErr maps transport failures onto the protocol error taxonomy.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return jsonrpc.ServiceUnavailable("Upstream RPC unavailable").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return jsonrpc.ServiceUnavailable("Request deadline exceeded").WithCause(err)
	default:
		return jsonrpc.UpstreamRPC("Upstream RPC error").WithCause(err)
	}
}

// cacheable reports whether a method's response may be served from KV.
// Chain-head reads and anything tagged pending change block to block.
func cacheable(method string, params []interface{}) bool {
	switch method {
	case "eth_blockNumber", "eth_gasPrice", "eth_sendRawTransaction", "eth_estimateGas":
		return false
	}
	for _, p := range params {
		if tag, ok := p.(string); ok && tag == "pending" {
			return false
		}
	}
	return true
}

// --- Typed helpers over raw calls ---

// Transaction is the JSON-RPC view of a transaction.
type Transaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Input       hexutil.Bytes   `json:"input"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
}

// Receipt is the JSON-RPC view of a transaction receipt.
type Receipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	Status          hexutil.Uint64  `json:"status"`
	GasUsed         hexutil.Uint64  `json:"gasUsed"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	ContractAddress *common.Address `json:"contractAddress"`
	EffectiveGas    *hexutil.Big    `json:"effectiveGasPrice"`
}

// Block is the JSON-RPC view of a block header.
type Block struct {
	Number       *hexutil.Big   `json:"number"`
	Hash         common.Hash    `json:"hash"`
	ParentHash   common.Hash    `json:"parentHash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	GasUsed      hexutil.Uint64 `json:"gasUsed"`
	GasLimit     hexutil.Uint64 `json:"gasLimit"`
	Miner        common.Address `json:"miner"`
	Transactions []common.Hash  `json:"transactions"`
	BaseFee      *hexutil.Big   `json:"baseFeePerGas"`
}

// CallArgs are the arguments of an eth_call / eth_estimateGas.
type CallArgs struct {
	From  *common.Address `json:"from,omitempty"`
	To    common.Address  `json:"to"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
}

// BlockNumber returns the chain head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var out hexutil.Uint64
	if err := c.Call(ctx, "eth_blockNumber", []interface{}{}, &out); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

// GasPrice returns the current gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*hexutil.Big, error) {
	var out hexutil.Big
	if err := c.Call(ctx, "eth_gasPrice", []interface{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EthCall executes a read-only call at the latest block.
func (c *Client) EthCall(ctx context.Context, args CallArgs) (hexutil.Bytes, error) {
	var out hexutil.Bytes
	if err := c.Call(ctx, "eth_call", []interface{}{args, "latest"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateGas estimates gas for a call.
func (c *Client) EstimateGas(ctx context.Context, args CallArgs) (uint64, error) {
	var out hexutil.Uint64
	if err := c.Call(ctx, "eth_estimateGas", []interface{}{args}, &out); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

// GetBalance returns the native balance of an address at the latest block.
func (c *Client) GetBalance(ctx context.Context, addr common.Address) (*hexutil.Big, error) {
	var out hexutil.Big
	if err := c.Call(ctx, "eth_getBalance", []interface{}{addr, "latest"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransactionCount returns the nonce of an address at the latest block.
func (c *Client) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	var out hexutil.Uint64
	if err := c.Call(ctx, "eth_getTransactionCount", []interface{}{addr, "latest"}, &out); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

// GetTransactionByHash returns the transaction, or nil when unknown.
func (c *Client) GetTransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var out *Transaction
	if err := c.Call(ctx, "eth_getTransactionByHash", []interface{}{hash}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransactionReceipt returns the receipt, or nil when not yet mined.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var out *Receipt
	if err := c.Call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBlockByNumber returns a block header by tag or number ("latest", "0x10").
func (c *Client) GetBlockByNumber(ctx context.Context, tag string) (*Block, error) {
	var out *Block
	if err := c.Call(ctx, "eth_getBlockByNumber", []interface{}{tag, false}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCode returns deployed bytecode at an address.
func (c *Client) GetCode(ctx context.Context, addr common.Address) (hexutil.Bytes, error) {
	var out hexutil.Bytes
	if err := c.Call(ctx, "eth_getCode", []interface{}{addr, "latest"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping probes the upstream for the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}
