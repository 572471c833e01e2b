// Package gateway is the Gateway Facade (component F): a thin HTTP mapping
// from the external route table to the precision, price tape, order
// pipeline, and TWAP scheduler components. Grounded in the teacher's
// internal/api/server.go (mux-per-route, http.Server with graceful
// Shutdown), generalized from its single dashboard-snapshot surface to this
// spec's full route table.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server runs the gateway's HTTP surface.
type Server struct {
	addr     string
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds a Server bound to addr, wiring every route in the
// external interface table to handlers.
func NewServer(addr string, handlers *Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", handlers.Health)
	mux.HandleFunc("/api/meta", handlers.Meta)
	mux.HandleFunc("/api/prices", handlers.Prices)
	mux.HandleFunc("/api/price-stream", handlers.PriceStream)
	mux.HandleFunc("/api/market-data", handlers.MarketData)
	mux.HandleFunc("/api/asset-ids", handlers.AssetIds)
	mux.HandleFunc("/api/clearinghouse-state", handlers.ClearinghouseState)
	mux.HandleFunc("/api/wallet-balance", handlers.WalletBalance)
	mux.HandleFunc("/api/place-order", handlers.PlaceOrder)
	mux.HandleFunc("/api/place-twap-order", handlers.PlaceTwapOrder)
	mux.HandleFunc("/api/twap-task/", handlers.TwapTask)
	mux.HandleFunc("/api/twap-tasks", handlers.TwapTasks)
	mux.HandleFunc("/api/cancel-twap-task/", handlers.CancelTwapTask)
	mux.HandleFunc("/api/leverage-status/", handlers.LeverageStatus)
	mux.HandleFunc("/api/update-leverage", handlers.UpdateLeverage)
	mux.HandleFunc("/api/update-margin", handlers.UpdateMargin)
	mux.HandleFunc("/api/cancel-orders", handlers.CancelOrders)
	mux.HandleFunc("/api/switch-network", handlers.SwitchNetwork)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // price-stream clears this deadline itself in pricetape.ServeSSE
		IdleTimeout:  60 * time.Second,
	}

	return &Server{addr: addr, handlers: handlers, server: server, logger: logger.With("component", "gateway-server")}
}

// Start runs the HTTP server until Stop is called. Blocks; intended to be
// run in its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("gateway server starting", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping gateway server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
