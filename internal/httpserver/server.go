// Package httpserver wires the HTTP surface: the MCP endpoint, the x402
// top-up routes, health, stats, and metrics.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/config"
	"github.com/CroLens/server/internal/evmrpc"
	"github.com/CroLens/server/internal/gateway"
	"github.com/CroLens/server/internal/kvcache"
	"github.com/CroLens/server/internal/logger"
	"github.com/CroLens/server/internal/mcp"
	"github.com/CroLens/server/internal/requestlog"
	"github.com/CroLens/server/internal/x402"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg        *config.Config
	version    string
	dispatcher *mcp.Dispatcher
	gateway    *gateway.Gateway
	payments   *x402.Service
	store      catalog.Store
	cache      kvcache.Cache
	rpc        *evmrpc.Client
	reqLog     *requestlog.Writer
	logger     zerolog.Logger
}

// Deps carries the collaborators the server needs.
type Deps struct {
	Config     *config.Config
	Version    string
	Dispatcher *mcp.Dispatcher
	Gateway    *gateway.Gateway
	Payments   *x402.Service
	Store      catalog.Store
	Cache      kvcache.Cache
	RPC        *evmrpc.Client
	ReqLog     *requestlog.Writer
	Logger     zerolog.Logger
}

// New builds the HTTP server with a configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:        deps.Config,
			version:    deps.Version,
			dispatcher: deps.Dispatcher,
			gateway:    deps.Gateway,
			payments:   deps.Payments,
			store:      deps.Store,
			cache:      deps.Cache,
			rpc:        deps.RPC,
			reqLog:     deps.ReqLog,
			logger:     deps.Logger,
		},
		httpServer: &http.Server{
			Addr:         deps.Config.Server.Address,
			ReadTimeout:  deps.Config.Server.ReadTimeout.Duration,
			WriteTimeout: deps.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  deps.Config.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router)
	return s
}

// configureRouter attaches middleware and routes.
func (h *handlers) configureRouter(router chi.Router) {
	// Security headers are applied first so every response carries them,
	// including errors produced by later middleware.
	router.Use(securityHeadersMiddleware)
	router.Use(originGuard(h.cfg.Server.CORSAllowedOrigins))

	if len(h.cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   h.cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(logger.Middleware(h.logger))
	router.Use(middleware.Recoverer)

	// MCP JSON-RPC endpoint. Rate limiting happens inside the handler so
	// 429s can carry the JSON-RPC error frame.
	router.Post("/", h.handleMCP)
	router.MethodNotAllowed(methodNotAllowed)

	// Lightweight endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", h.handleHealth)
		r.Get("/stats", h.handleStats)
		r.Handle("/metrics", promhttp.Handler())
	})

	// x402 top-up endpoints with per-IP limits.
	router.Route("/x402", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.With(httprate.Limit(h.cfg.RateLimit.QuotePerMin, time.Minute,
			httprate.WithKeyFuncs(clientIPKey))).
			Get("/quote", h.handleQuote)
		r.Get("/status", h.handleStatus)
		r.With(httprate.Limit(h.cfg.RateLimit.VerifyPerMin, time.Minute,
			httprate.WithKeyFuncs(clientIPKey))).
			Post("/verify", h.handleVerify)
	})
}

// clientIPKey keys httprate windows by the edge-reported client IP.
func clientIPKey(r *http.Request) (string, error) {
	return logger.ClientIP(r), nil
}

// methodNotAllowed serves non-POST hits on / per the protocol contract.
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
