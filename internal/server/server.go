// Package server implements the HTTP server for the application.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/diffpilot/diffpilot/internal/config"
	"github.com/diffpilot/diffpilot/internal/review"
)

// Server wraps an HTTP server with graceful shutdown capabilities.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new HTTP server over the review service.
func NewServer(cfg *config.Config, svc *review.Service, logger *slog.Logger) *Server {
	router := NewRouter(svc, logger)

	return &Server{
		server: &http.Server{
			Addr:    ":" + cfg.ServerPort,
			Handler: router,
			// Streaming responses stay open for whole sessions; only the
			// read side gets a short timeout.
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the HTTP server and blocks until shutdown or error.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server with a 30-second timeout.
func (s *Server) Stop() error {
	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}
