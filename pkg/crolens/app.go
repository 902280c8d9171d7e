// Package crolens assembles the server components for reuse or standalone
// serving.
package crolens

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/config"
	"github.com/CroLens/server/internal/evmrpc"
	"github.com/CroLens/server/internal/gateway"
	"github.com/CroLens/server/internal/httpserver"
	"github.com/CroLens/server/internal/kvcache"
	"github.com/CroLens/server/internal/logger"
	"github.com/CroLens/server/internal/mcp"
	"github.com/CroLens/server/internal/metrics"
	"github.com/CroLens/server/internal/multicall"
	"github.com/CroLens/server/internal/pricing"
	"github.com/CroLens/server/internal/requestlog"
	"github.com/CroLens/server/internal/simulator"
	"github.com/CroLens/server/internal/tools"
	"github.com/CroLens/server/internal/x402"
)

// Version is stamped at build time.
var Version = "dev"

// App wires the CroLens components.
type App struct {
	Config    *config.Config
	Store     catalog.Store
	Cache     kvcache.Cache
	RPC       *evmrpc.Client
	Oracle    *pricing.Oracle
	Refresher *pricing.Refresher
	Server    *httpserver.Server
	Logger    zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store catalog.Store
	cache kvcache.Cache
}

// WithStore sets a custom catalog backend.
func WithStore(store catalog.Store) Option {
	return func(o *options) { o.store = store }
}

// WithCache sets a custom KV cache backend.
func WithCache(cache kvcache.Cache) Option {
	return func(o *options) { o.cache = cache }
}

// NewApp assembles the service.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("crolens: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "crolens-server",
		Version:     Version,
		Environment: cfg.Logging.Environment,
	})

	app := &App{Config: cfg, Logger: appLogger}
	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	// KV cache: Redis when configured, in-process otherwise.
	if optState.cache != nil {
		app.Cache = optState.cache
	} else if cfg.KV.RedisURL != "" {
		redisCache, err := kvcache.NewRedisCache(ctx, cfg.KV.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.Cache = redisCache
	} else {
		appLogger.Warn().Msg("crolens: using in-memory KV cache, limits are per-replica")
		app.Cache = kvcache.NewMemoryCache()
	}

	// Catalog: Postgres when configured, in-memory otherwise.
	if optState.store != nil {
		app.Store = optState.store
	} else if cfg.Catalog.PostgresURL != "" {
		store, err := catalog.NewPostgresStore(cfg.Catalog.PostgresURL, catalog.PoolSettings{
			MaxOpenConns:    cfg.Catalog.MaxOpenConns,
			MaxIdleConns:    cfg.Catalog.MaxIdleConns,
			ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime.Duration,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		app.Store = store
	} else {
		appLogger.Warn().Msg("crolens: using in-memory catalog, do not use this backend in production")
		app.Store = catalog.NewMemoryStore()
	}

	app.RPC = evmrpc.New(evmrpc.Config{
		UpstreamURL:                cfg.RPC.UpstreamURL,
		MaxRetries:                 cfg.RPC.MaxRetries,
		Timeout:                    cfg.RPC.Timeout.Duration,
		CacheTTL:                   cfg.RPC.CacheTTL.Duration,
		BreakerEnabled:             cfg.Breaker.Enabled,
		BreakerMaxRequests:         cfg.Breaker.MaxRequests,
		BreakerInterval:            cfg.Breaker.Interval.Duration,
		BreakerTimeout:             cfg.Breaker.Timeout.Duration,
		BreakerConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}, app.Cache, metricsCollector)

	mc, err := multicall.New(common.HexToAddress(cfg.Chain.MulticallAddress), app.RPC)
	if err != nil {
		return nil, err
	}

	amm := adapters.NewAMMAdapter(app.RPC, mc)
	lending := adapters.NewLendingAdapter(app.RPC, mc)

	app.Oracle = pricing.New(app.Store, amm, app.Cache, cfg.Pricing.DerivedPriceTTL.Duration)
	app.Refresher = pricing.NewRefresher(
		app.Store, app.Oracle, amm,
		cfg.Pricing.AnchorSourceURL,
		cfg.Pricing.AnchorRefreshInterval.Duration,
		cfg.Pricing.AnchorPriceTTL.Duration,
		appLogger, metricsCollector,
	)

	payments := x402.New(x402.Config{
		ChainID:           cfg.Chain.ChainID,
		PaymentAddress:    cfg.X402.PaymentAddress,
		TopupCredits:      cfg.X402.TopupCredits,
		PricePerCreditWei: cfg.X402.PricePerCreditWei,
	}, app.Store, app.RPC, metricsCollector)

	gw := gateway.New(gateway.Config{
		DefaultCredits:   cfg.Credits.DefaultCredits,
		FreeTools:        cfg.Credits.FreeTools,
		ProTools:         cfg.Credits.ProTools,
		JSONRPCPerWindow: cfg.RateLimit.JSONRPCPerWindow,
		JSONRPCWindow:    cfg.RateLimit.JSONRPCWindow.Duration,
		FreePerHour:      cfg.RateLimit.FreePerHour,
		ProPerHour:       cfg.RateLimit.ProPerHour,
	}, app.Store, app.Cache, payments, metricsCollector)

	deps := &tools.Deps{
		Store:         app.Store,
		RPC:           app.RPC,
		MC:            mc,
		AMM:           amm,
		Lending:       lending,
		Oracle:        app.Oracle,
		Sim:           simulator.New(cfg.Simulator.URL, cfg.Simulator.APIKey, cfg.Simulator.Timeout.Duration),
		ChainID:       cfg.Chain.ChainID,
		NativeSymbol:  cfg.Chain.NativeSymbol,
		WrappedNative: common.HexToAddress(cfg.Chain.WrappedNative),
	}

	dispatcher := mcp.New(tools.NewRegistry(), deps, metricsCollector, cfg.Server.RequestDeadline.Duration)
	reqLog := requestlog.New(app.Store, cfg.Server.RequestLogSampleRate, appLogger)

	app.Server = httpserver.New(httpserver.Deps{
		Config:     cfg,
		Version:    Version,
		Dispatcher: dispatcher,
		Gateway:    gw,
		Payments:   payments,
		Store:      app.Store,
		Cache:      app.Cache,
		RPC:        app.RPC,
		ReqLog:     reqLog,
		Logger:     appLogger,
	})

	return app, nil
}

// Start launches background jobs (the anchor refresher).
func (a *App) Start(ctx context.Context) {
	a.Refresher.Start(ctx)
}

// Close stops background jobs and releases backends.
func (a *App) Close() error {
	a.Refresher.Stop()
	var firstErr error
	if err := a.Cache.Close(); err != nil {
		firstErr = err
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
