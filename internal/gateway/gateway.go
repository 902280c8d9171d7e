// Package gateway applies the request-admission pipeline: API key
// resolution with auto-provisioning, fixed-window rate limits, the quota /
// tier gate, and post-success billing.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/jsonrpc"
	"github.com/CroLens/server/internal/kvcache"
	"github.com/CroLens/server/internal/logger"
	"github.com/CroLens/server/internal/metrics"
	"github.com/CroLens/server/internal/x402"
)

// keyPattern accepts syntactically valid API keys: the cl_sk_ prefix plus a
// non-empty suffix.
var keyPattern = regexp.MustCompile(`^cl_sk_[A-Za-z0-9_-]+$`)

// Config holds the gateway knobs.
type Config struct {
	DefaultCredits int64
	FreeTools      []string
	ProTools       []string

	JSONRPCPerWindow int
	JSONRPCWindow    time.Duration
	FreePerHour      int
	ProPerHour       int // 0 = unlimited
}

// Gateway owns ApiKey mutations: provisioning, billing, and the quota gate.
// Tool code never touches key or payment state directly.
type Gateway struct {
	cfg       Config
	store     catalog.Store
	cache     kvcache.Cache
	payments  *x402.Service
	metrics   *metrics.Metrics
	freeTools map[string]bool
	proTools  map[string]bool
}

// New builds the gateway.
func New(cfg Config, store catalog.Store, cache kvcache.Cache, payments *x402.Service, m *metrics.Metrics) *Gateway {
	freeTools := make(map[string]bool, len(cfg.FreeTools))
	for _, name := range cfg.FreeTools {
		freeTools[name] = true
	}
	proTools := make(map[string]bool, len(cfg.ProTools))
	for _, name := range cfg.ProTools {
		proTools[name] = true
	}
	return &Gateway{
		cfg:       cfg,
		store:     store,
		cache:     cache,
		payments:  payments,
		metrics:   m,
		freeTools: freeTools,
		proTools:  proTools,
	}
}

// ValidKeyFormat reports whether the key is syntactically acceptable.
func ValidKeyFormat(key string) bool { return keyPattern.MatchString(key) }

// ResolveKey loads the key row, auto-provisioning a free row with the
// default credit balance on first sighting. Syntactically invalid keys are
// an invalid-params error.
func (g *Gateway) ResolveKey(ctx context.Context, key string) (catalog.APIKey, error) {
	if !ValidKeyFormat(key) {
		return catalog.APIKey{}, jsonrpc.InvalidParams("Invalid API key format")
	}

	rec, err := g.store.GetAPIKey(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return catalog.APIKey{}, jsonrpc.ServiceUnavailable("Catalog unavailable").WithCause(err)
	}

	now := time.Now().UTC()
	if err := g.store.CreateAPIKey(ctx, catalog.APIKey{
		Key:          key,
		Tier:         catalog.TierFree,
		Credits:      g.cfg.DefaultCredits,
		DailyResetAt: now.Truncate(24 * time.Hour).Add(24 * time.Hour),
		IsActive:     true,
		CreatedAt:    now,
	}); err != nil {
		return catalog.APIKey{}, jsonrpc.ServiceUnavailable("Catalog unavailable").WithCause(err)
	}
	if g.metrics != nil {
		g.metrics.KeysProvisioned.Inc()
	}
	logger.FromContext(ctx).Info().
		Str("api_key", logger.TruncateAddress(key)).
		Msg("gateway.key_provisioned")

	// Read-after-write so a lost race still returns the surviving row.
	rec, err = g.store.GetAPIKey(ctx, key)
	if err != nil {
		return catalog.APIKey{}, jsonrpc.ServiceUnavailable("Catalog unavailable").WithCause(err)
	}
	return rec, nil
}

// AllowJSONRPC enforces the per-IP fixed window at POST /. Returns a
// -32003 error carrying retry_after when the window is exhausted.
func (g *Gateway) AllowJSONRPC(ctx context.Context, ip string) *jsonrpc.Error {
	return g.allow(ctx, "rl:rpc:"+ip, g.cfg.JSONRPCPerWindow, g.cfg.JSONRPCWindow, "jsonrpc_ip")
}

// AllowToolCall enforces the per-key window for one tool invocation. The
// pro tier is unlimited when ProPerHour is zero.
func (g *Gateway) AllowToolCall(ctx context.Context, rec catalog.APIKey) *jsonrpc.Error {
	limit := g.cfg.FreePerHour
	if rec.Tier == catalog.TierPro {
		if g.cfg.ProPerHour <= 0 {
			return nil
		}
		limit = g.cfg.ProPerHour
	}
	return g.allow(ctx, "rl:key:"+rec.Key, limit, time.Hour, "per_key")
}

// allow runs one fixed-window increment. A failing KV backend admits the
// request: availability over strictness for a read-only data layer.
func (g *Gateway) allow(ctx context.Context, key string, limit int, window time.Duration, limiter string) *jsonrpc.Error {
	count, remaining, err := g.cache.Incr(ctx, key, window)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("gateway.rate_limit_unavailable")
		return nil
	}
	if count <= int64(limit) {
		return nil
	}
	if g.metrics != nil {
		g.metrics.ObserveRateLimit(limiter)
	}
	retryAfter := int(remaining.Round(time.Second).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}
	return jsonrpc.RateLimited(retryAfter)
}

// QuotaGate rejects the call with -32002 when the tool is pro-only for a
// free key or the key has no credits. Free-included tools pass regardless
// of balance.
func (g *Gateway) QuotaGate(rec catalog.APIKey, tool string) *jsonrpc.Error {
	if g.freeTools[tool] {
		return nil
	}
	if g.proTools[tool] && rec.Tier != catalog.TierPro {
		return jsonrpc.PaymentRequired(
			fmt.Sprintf("Tool %q requires the pro tier", tool),
			g.quoteData(rec),
		)
	}
	if rec.Credits <= 0 {
		return jsonrpc.PaymentRequired("No credits remaining", g.quoteData(rec))
	}
	return nil
}

// quoteData is the -32002 data envelope describing the top-up offer.
func (g *Gateway) quoteData(rec catalog.APIKey) map[string]interface{} {
	quote := g.payments.Quote()
	return map[string]interface{}{
		"payment_address": quote.PaymentAddress,
		"chain_id":        quote.ChainID,
		"price":           quote.AmountWei,
		"credits":         rec.Credits,
	}
}

// Bill decrements one credit after a successful tool result. Free-included
// tools are not billed. Billing happens-after the tool's completion; a
// failed call never reaches here.
func (g *Gateway) Bill(ctx context.Context, rec catalog.APIKey, tool string) error {
	if g.freeTools[tool] {
		return nil
	}
	remaining, err := g.store.DebitCredit(ctx, rec.Key)
	if err != nil {
		return err
	}
	if g.metrics != nil {
		g.metrics.CreditsBilledTotal.Inc()
	}
	logger.FromContext(ctx).Debug().
		Str("tool", tool).
		Int64("credits_remaining", remaining).
		Msg("gateway.billed")
	return nil
}

// IsProTool reports whether the registry marks the tool pro-only.
func (g *Gateway) IsProTool(tool string) bool { return g.proTools[tool] }

// IsFreeTool reports whether the tool is included for free keys.
func (g *Gateway) IsFreeTool(tool string) bool { return g.freeTools[tool] }
