// Package server exposes the arbitrage system over HTTP: read endpoints
// for opportunities and trades, execution and close operations, job
// triggers, archive downloads, and a websocket event feed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
	"github.com/oddslane/hedgebot/internal/server/handler"
	"github.com/oddslane/hedgebot/internal/server/middleware"
	"github.com/oddslane/hedgebot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	APIKey      string // empty disables authentication
	CORSOrigins []string
	RateLimit   int // requests per client per minute; 0 disables
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Opportunities *handler.OpportunityHandler
	Trades        *handler.TradeHandler
	Jobs          *handler.JobsHandler
	Archives      *handler.ArchiveHandler
	Audit         *handler.AuditHandler
}

// Server is the HTTP and websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. limiter
// backs per-client request limiting and may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/opportunities", handlers.Opportunities.List)
	mux.HandleFunc("GET /api/opportunities/{id}", handlers.Opportunities.Get)

	mux.HandleFunc("POST /api/arbitrage/execute", handlers.Trades.Execute)
	mux.HandleFunc("GET /api/trades", handlers.Trades.List)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.Get)
	mux.HandleFunc("GET /api/trades/{id}/pnl", handlers.Trades.PnL)
	mux.HandleFunc("POST /api/trades/{id}/close", handlers.Trades.Close)

	mux.HandleFunc("POST /api/jobs/matcher/trigger", handlers.Jobs.TriggerMatcher)
	mux.HandleFunc("POST /api/jobs/settlement/trigger", handlers.Jobs.TriggerSettlement)

	mux.HandleFunc("GET /api/archives", handlers.Archives.List)
	mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.Download)

	mux.HandleFunc("GET /api/audit", handlers.Audit.List)

	if wsHub != nil {
		mux.HandleFunc("GET /api/ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(h)
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
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
