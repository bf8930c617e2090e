package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantari/tradecore/internal/domain"
	"github.com/quantari/tradecore/internal/server/handler"
	"github.com/quantari/tradecore/internal/server/middleware"
	"github.com/quantari/tradecore/internal/server/ws"
)

// healthPath is exempt from authentication so probes work unauthenticated.
const healthPath = "/api/health"

// Config holds the HTTP server configuration.
type Config struct {
	Port               int
	CORSOrigins        []string
	APIKeys            []string // empty disables authentication
	RateLimitPerMinute int      // zero disables rate limiting
}

// Handlers aggregates the HTTP handlers the server registers. Archive is
// optional; when nil the archive routes stay unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Orders    *handler.OrderHandler
	Positions *handler.PositionHandler
	Book      *handler.BookHandler
	Candles   *handler.CandleHandler
	Balances  *handler.BalanceHandler
	Archive   *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API over the trading core.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux and wraps it in the
// middleware chain: auth, then rate limiting, then logging, with CORS
// outermost. A nil limiter disables rate limiting; a nil wsHub disables the
// WebSocket endpoint.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/orders", handlers.Orders.PlaceOrder)
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)

	mux.HandleFunc("POST /api/positions", handlers.Positions.OpenPosition)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("GET /api/positions/{id}/pnl", handlers.Positions.GetUnrealizedPnL)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.ClosePosition)
	mux.HandleFunc("PUT /api/positions/{id}/stops", handlers.Positions.UpdateStops)

	mux.HandleFunc("GET /api/book", handlers.Book.GetBook)
	mux.HandleFunc("GET /api/book/top", handlers.Book.GetTopOfBook)
	mux.HandleFunc("GET /api/book/estimate", handlers.Book.EstimateOrder)

	mux.HandleFunc("GET /api/candles", handlers.Candles.ListCandles)
	mux.HandleFunc("GET /api/candles/latest", handlers.Candles.GetLatestCandle)

	mux.HandleFunc("GET /api/balances", handlers.Balances.ListBalances)
	mux.HandleFunc("GET /api/balances/{asset}", handlers.Balances.GetBalance)
	mux.HandleFunc("POST /api/balances/{asset}/deposit", handlers.Balances.Deposit)
	mux.HandleFunc("POST /api/balances/{asset}/withdraw", handlers.Balances.Withdraw)
	mux.HandleFunc("POST /api/balances/sync", handlers.Balances.SyncBalances)

	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive/{kind}", handlers.Archive.ListArchives)
		mux.HandleFunc("GET /api/archive/{kind}/{key...}", handlers.Archive.GetArchive)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeys, healthPath)(h)
	if limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
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
		logger:     logger,
	}
}

// Start listens for HTTP requests and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
