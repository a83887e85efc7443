package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/mintmarket/internal/domain"
	"github.com/alanyoungcy/mintmarket/internal/server/handler"
	"github.com/alanyoungcy/mintmarket/internal/server/middleware"
	"github.com/alanyoungcy/mintmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter gates request admission when set; nil disables limiting.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Trades and Events are nil when Postgres is disabled; their routes are
// simply not registered.
type Handlers struct {
	Health *handler.HealthHandler
	Market *handler.MarketHandler
	Ops    *handler.OpsHandler
	Trades *handler.TradeHandler
	Events *handler.EventHandler
}

// Server is the HTTP + WebSocket API surface of the marketplace ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Marketplace book.
	mux.HandleFunc("GET /api/market", handlers.Market.GetMarketInfo)
	mux.HandleFunc("GET /api/listings", handlers.Market.ListListings)
	mux.HandleFunc("GET /api/listings/{collection}/{tokenId}", handlers.Market.GetListing)
	mux.HandleFunc("GET /api/offers", handlers.Market.ListOffers)
	mux.HandleFunc("GET /api/offers/{collection}/{tokenId}", handlers.Market.GetOffer)

	// Ledger operations.
	mux.HandleFunc("POST /api/admin/currencies", handlers.Ops.WhitelistCurrency)
	mux.HandleFunc("POST /api/admin/collections", handlers.Ops.WhitelistCollection)
	mux.HandleFunc("PUT /api/admin/fee", handlers.Ops.SetFeePercent)
	mux.HandleFunc("POST /api/ops/list", handlers.Ops.ListItem)
	mux.HandleFunc("POST /api/ops/unlist", handlers.Ops.UnlistItem)
	mux.HandleFunc("POST /api/ops/offer", handlers.Ops.CreateOffer)
	mux.HandleFunc("POST /api/ops/lazy-offer", handlers.Ops.CreateLazyOffer)
	mux.HandleFunc("POST /api/ops/withdraw", handlers.Ops.WithdrawOffer)
	mux.HandleFunc("POST /api/ops/accept", handlers.Ops.AcceptOffer)
	mux.HandleFunc("POST /api/ops/buy", handlers.Ops.BuyItem)
	mux.HandleFunc("POST /api/ops/lazy-buy", handlers.Ops.BuyLazyNFT)

	// Settled-trade history (Postgres-backed, optional).
	if handlers.Trades != nil {
		mux.HandleFunc("GET /api/trades", handlers.Trades.ListRecent)
		mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.GetTrade)
		mux.HandleFunc("GET /api/trades/collection/{collection}", handlers.Trades.ListByCollection)
	}

	// Event journal (Postgres-backed, optional).
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
		mux.HandleFunc("GET /api/events/name/{name}", handlers.Events.ListEventsByName)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is configured.
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
