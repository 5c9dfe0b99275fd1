// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/server/handler"
	"github.com/alanyoungcy/shproduct/internal/server/middleware"
	"github.com/alanyoungcy/shproduct/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // comma-separated; empty disables authentication
	RateLimit   int
	RateWindow  time.Duration
	// Block, when set, stamps every response with the ledger height.
	Block func() uint64
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Chain      *handler.ChainHandler
	Products   *handler.ProductHandler
	Statements *handler.StatementHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter and wsHub
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the routed and middleware-wrapped handler.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Chain and accounts.
	mux.HandleFunc("GET /api/chain", handlers.Chain.GetInfo)
	mux.HandleFunc("POST /api/calls", handlers.Chain.SubmitCall)
	mux.HandleFunc("GET /api/accounts/{addr}/nonce", handlers.Chain.GetNonce)
	mux.HandleFunc("GET /api/tokens/{addr}/balances/{owner}", handlers.Chain.GetBalance)
	mux.HandleFunc("GET /api/audit", handlers.Chain.ListAudit)

	// Products.
	mux.HandleFunc("GET /api/products", handlers.Products.ListProducts)
	mux.HandleFunc("GET /api/products/{addr}", handlers.Products.GetProduct)
	mux.HandleFunc("GET /api/products/{addr}/users/{user}", handlers.Products.GetUser)
	mux.HandleFunc("GET /api/products/{addr}/ledger", handlers.Products.GetLedger)
	mux.HandleFunc("GET /api/products/{addr}/events", handlers.Products.ListEvents)
	mux.HandleFunc("GET /api/events", handlers.Products.ListAllEvents)

	// Statements.
	mux.HandleFunc("GET /api/products/{addr}/statements", handlers.Statements.ListStatements)
	mux.HandleFunc("POST /api/products/{addr}/statements", handlers.Statements.ArchiveStatement)
	mux.HandleFunc("GET /api/statements/{path...}", handlers.Statements.GetStatement)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if cfg.Block != nil {
		h = middleware.LedgerBlock(cfg.Block)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger, "/api/health")(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
