package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/metrics"
)

// Refresher periodically writes anchor prices into the KV cache. It is the
// single logical writer of price:anchor:* keys; if runs ever overlap the
// last writer wins per key.
type Refresher struct {
	store     catalog.Store
	oracle    *Oracle
	pairs     PairReader
	sourceURL string
	interval  time.Duration
	ttl       time.Duration
	client    *http.Client
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewRefresher builds the anchor refresher. sourceURL may be empty, in which
// case anchors are derived from their deepest stablecoin pools instead.
func NewRefresher(store catalog.Store, oracle *Oracle, pairs PairReader, sourceURL string, interval, ttl time.Duration, log zerolog.Logger, m *metrics.Metrics) *Refresher {
	return &Refresher{
		store:     store,
		oracle:    oracle,
		pairs:     pairs,
		sourceURL: sourceURL,
		interval:  interval,
		ttl:       ttl,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    log,
		metrics:   m,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the refresh loop. One refresh runs immediately so prices
// are available before the first tick.
func (r *Refresher) Start(ctx context.Context) {
	r.started = true
	go func() {
		defer close(r.done)
		r.runOnce(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runOnce(ctx)
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight run to finish.
// A refresher that was never started stops trivially.
func (r *Refresher) Stop() {
	if !r.started {
		return
	}
	close(r.stop)
	<-r.done
}

// runOnce refreshes every anchor token. Per-token failures are logged and
// skipped; the stale KV entry simply expires.
func (r *Refresher) runOnce(ctx context.Context) {
	if r.metrics != nil {
		r.metrics.AnchorRefreshTotal.Inc()
	}

	runCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	anchors, err := r.store.AnchorTokens(runCtx)
	if err != nil {
		r.fail(err, "anchor token list")
		return
	}
	if len(anchors) == 0 {
		return
	}

	var external externalPrices
	if r.sourceURL != "" {
		external, err = r.fetchExternal(runCtx)
		if err != nil {
			r.fail(err, "external price source")
			// Fall through: derivation below still covers what it can.
		}
	}

	for _, token := range anchors {
		price, ok := r.resolveAnchor(runCtx, token, external)
		if !ok {
			r.logger.Warn().Str("token", token.Symbol).Msg("pricing.anchor_unresolved")
			continue
		}
		r.oracle.WriteAnchor(runCtx, token.Symbol, price, r.ttl)
		r.logger.Debug().Str("token", token.Symbol).Float64("price_usd", price).Msg("pricing.anchor_refreshed")
	}
}

// resolveAnchor prefers the external source, then stablecoin parity, then a
// reserves read against the token's deepest stable pool.
func (r *Refresher) resolveAnchor(ctx context.Context, token catalog.Token, external externalPrices) (float64, bool) {
	if external != nil && token.ExternalID != "" {
		if entry, ok := external[token.ExternalID]; ok && entry.USD > 0 {
			return entry.USD, true
		}
	}
	if token.IsStable {
		return 1.0, true
	}
	return r.deriveFromStablePool(ctx, token)
}

// deriveFromStablePool prices an anchor from its deepest pool against a
// stablecoin, when no external quote is available.
func (r *Refresher) deriveFromStablePool(ctx context.Context, token catalog.Token) (float64, bool) {
	pools, err := r.store.PoolsForToken(ctx, token.Address)
	if err != nil {
		return 0, false
	}
	for _, pool := range pools {
		counterAddr := pool.Token1
		if strings.EqualFold(pool.Token1, token.Address) {
			counterAddr = pool.Token0
		}
		counter, err := r.store.TokenByAddress(ctx, counterAddr)
		if err != nil || !counter.IsStable {
			continue
		}
		state, err := r.pairs.PairState(ctx, common.HexToAddress(pool.Address))
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
		return counterAmount / tokenAmount, true
	}
	return 0, false
}

// fetchExternal pulls the external anchor quotes.
func (r *Refresher) fetchExternal(ctx context.Context) (externalPrices, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anchor source status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseExternalPrices(raw)
}

func (r *Refresher) fail(err error, what string) {
	if r.metrics != nil {
		r.metrics.AnchorRefreshErrors.Inc()
	}
	r.logger.Warn().Err(err).Msg("pricing.refresh_failed: " + what)
}
