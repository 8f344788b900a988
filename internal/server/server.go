// Package server assembles the HTTP and WebSocket API for the factorpool
// ledger daemon.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumenfi/factorpool/internal/server/handler"
	"github.com/lumenfi/factorpool/internal/server/middleware"
	"github.com/lumenfi/factorpool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	APIKeys     []string // empty disables authentication
	CORSOrigins []string
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Invoices   *handler.InvoiceHandler
	Settlement *handler.SettlementHandler
	Pool       *handler.PoolHandler
	Treasury   *handler.TreasuryHandler
	Stats      *handler.StatsHandler
}

// Server is the ledger's HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered and the middleware chain
// (CORS, logging, auth) applied. wsHub may be nil to disable the WebSocket
// endpoint.
func New(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check, no auth required by convention but left inside the chain
	// since auth middleware covers the whole mux uniformly.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Invoice lifecycle.
	mux.HandleFunc("GET /api/invoices", handlers.Invoices.List)
	mux.HandleFunc("POST /api/invoices", handlers.Invoices.Create)
	mux.HandleFunc("GET /api/invoices/{id}", handlers.Invoices.Get)
	mux.HandleFunc("POST /api/invoices/{id}/approve", handlers.Invoices.Approve)
	mux.HandleFunc("POST /api/invoices/{id}/cancel", handlers.Invoices.Cancel)
	mux.HandleFunc("POST /api/invoices/{id}/approve-funding", handlers.Invoices.ApproveFunding)
	mux.HandleFunc("POST /api/invoices/{id}/default", handlers.Invoices.Default)

	// Settlement.
	mux.HandleFunc("POST /api/invoices/{id}/fund", handlers.Settlement.Fund)
	mux.HandleFunc("POST /api/invoices/{id}/repay", handlers.Settlement.Repay)
	mux.HandleFunc("POST /api/settlement/batch-fund", handlers.Settlement.BatchFund)

	// Capital pool.
	mux.HandleFunc("GET /api/pool", handlers.Pool.Snapshot)
	mux.HandleFunc("GET /api/pool/shares/{address}", handlers.Pool.Shares)
	mux.HandleFunc("POST /api/pool/deposit", handlers.Pool.Deposit)
	mux.HandleFunc("POST /api/pool/withdraw", handlers.Pool.Withdraw)
	mux.HandleFunc("POST /api/pool/redeem", handlers.Pool.Redeem)
	mux.HandleFunc("POST /api/pool/halt", handlers.Pool.Halt)
	mux.HandleFunc("POST /api/pool/unhalt", handlers.Pool.Unhalt)

	// Treasury.
	mux.HandleFunc("GET /api/treasury/strategies", handlers.Treasury.List)
	mux.HandleFunc("DELETE /api/treasury/strategies/{name}", handlers.Treasury.Remove)
	mux.HandleFunc("PUT /api/treasury/strategies/{name}/weight", handlers.Treasury.SetWeight)
	mux.HandleFunc("POST /api/treasury/strategies/{name}/pause", handlers.Treasury.Pause)
	mux.HandleFunc("POST /api/treasury/strategies/{name}/unpause", handlers.Treasury.Unpause)
	mux.HandleFunc("POST /api/treasury/strategies/{name}/harvest", handlers.Treasury.Harvest)
	mux.HandleFunc("POST /api/treasury/strategies/{name}/emergency-withdraw", handlers.Treasury.EmergencyWithdraw)
	mux.HandleFunc("POST /api/treasury/rebalance", handlers.Treasury.Rebalance)
	mux.HandleFunc("POST /api/treasury/deposit", handlers.Treasury.Deposit)
	mux.HandleFunc("POST /api/treasury/withdraw", handlers.Treasury.Withdraw)

	// Aggregates and event feed.
	mux.HandleFunc("GET /api/stats", handlers.Stats.Stats)
	mux.HandleFunc("GET /api/events", handlers.Stats.Events)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeys)(h)
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

// Start begins listening. It blocks until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
