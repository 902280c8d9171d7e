// Package pricing implements the two-tier price oracle: anchor prices
// refreshed by a scheduled job, and derived prices computed from AMM
// reserves against an anchor.
package pricing

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/kvcache"
	"github.com/CroLens/server/internal/logger"
)

// PairReader is the slice of the AMM adapter the oracle needs.
type PairReader interface {
	PairState(ctx context.Context, pair common.Address) (adapters.PairState, error)
}

// Oracle resolves token USD prices. Anchor reads never block on the
// upstream; a missing price is reported as nil, never as an error.
type Oracle struct {
	store      catalog.Store
	pairs      PairReader
	cache      kvcache.Cache
	derivedTTL time.Duration
}

// New builds the oracle.
func New(store catalog.Store, pairs PairReader, cache kvcache.Cache, derivedTTL time.Duration) *Oracle {
	return &Oracle{store: store, pairs: pairs, cache: cache, derivedTTL: derivedTTL}
}

// PriceUSD returns the token's USD price, or nil when neither tier yields a
// value. Downstream tools surface nil as price_usd: null.
func (o *Oracle) PriceUSD(ctx context.Context, token catalog.Token) (*float64, error) {
	if token.IsAnchor {
		if price, ok := o.readCached(ctx, kvcache.AnchorPriceKey(token.Symbol)); ok {
			return &price, nil
		}
		// Anchor miss: the refresher owns these keys; never fetch inline.
		if token.IsStable {
			one := 1.0
			return &one, nil
		}
		return nil, nil
	}

	if price, ok := o.readCached(ctx, kvcache.DerivedPriceKey(strings.ToLower(token.Address))); ok {
		return &price, nil
	}

	price, ok, err := o.derive(ctx, token)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("token", token.Symbol).Msg("price.derive_failed")
		return nil, nil
	}
	if !ok {
		if token.IsStable {
			one := 1.0
			return &one, nil
		}
		return nil, nil
	}

	o.writeCached(ctx, kvcache.DerivedPriceKey(strings.ToLower(token.Address)), price, o.derivedTTL)
	return &price, nil
}

// derive prices a token from the deepest pool pairing it with an anchor (or
// stablecoin): reserves ratio times the counterpart's USD price.
func (o *Oracle) derive(ctx context.Context, token catalog.Token) (float64, bool, error) {
	pools, err := o.store.PoolsForToken(ctx, token.Address)
	if err != nil {
		return 0, false, err
	}

	for _, pool := range pools { // deepest first
		counterAddr := pool.Token1
		if strings.EqualFold(pool.Token1, token.Address) {
			counterAddr = pool.Token0
		}
		counter, err := o.store.TokenByAddress(ctx, counterAddr)
		if err != nil {
			continue
		}

		counterPrice, ok := o.counterpartPrice(ctx, counter)
		if !ok {
			continue
		}

		state, err := o.pairs.PairState(ctx, common.HexToAddress(pool.Address))
		if err != nil {
			continue
		}

		tokenReserve, counterReserve := state.Reserve0, state.Reserve1
		if strings.EqualFold(pool.Token1, token.Address) {
			tokenReserve, counterReserve = state.Reserve1, state.Reserve0
		}

		tokenAmount := adapters.ToFloat(tokenReserve, token.Decimals)
		counterAmount := adapters.ToFloat(counterReserve, counter.Decimals)
		if tokenAmount <= 0 || counterAmount <= 0 {
			continue
		}

		return counterAmount / tokenAmount * counterPrice, true, nil
	}
	return 0, false, nil
}

// counterpartPrice resolves the USD price of a pool counterpart: a cached
// anchor price, or 1.0 for stablecoins.
func (o *Oracle) counterpartPrice(ctx context.Context, counter catalog.Token) (float64, bool) {
	if counter.IsAnchor {
		if price, ok := o.readCached(ctx, kvcache.AnchorPriceKey(counter.Symbol)); ok {
			return price, true
		}
	}
	if counter.IsStable {
		return 1.0, true
	}
	return 0, false
}

func (o *Oracle) readCached(ctx context.Context, key string) (float64, bool) {
	raw, err := o.cache.Get(ctx, key)
	if err != nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	kvcache.MarkHit(ctx)
	return price, true
}

func (o *Oracle) writeCached(ctx context.Context, key string, price float64, ttl time.Duration) {
	raw := strconv.FormatFloat(price, 'g', -1, 64)
	if err := o.cache.Set(ctx, key, []byte(raw), ttl); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("key", key).Msg("price.cache_write_failed")
	}
}

// WriteAnchor stores one anchor price. Exposed for the refresher, which is
// the single logical writer of price:anchor:* keys.
func (o *Oracle) WriteAnchor(ctx context.Context, symbol string, price float64, ttl time.Duration) {
	o.writeCached(ctx, kvcache.AnchorPriceKey(symbol), price, ttl)
}

// externalPrices is the wire shape of the external anchor source:
// {"<external_id>": {"usd": 0.08}, ...}
type externalPrices map[string]struct {
	USD float64 `json:"usd"`
}

func parseExternalPrices(raw []byte) (externalPrices, error) {
	var out externalPrices
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
