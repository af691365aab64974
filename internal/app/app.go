// Package app initializes and orchestrates the main components of the
// application. It wires together the configuration, server, and services.
package app

import (
	"log/slog"

	"github.com/diffpilot/diffpilot/internal/config"
	"github.com/diffpilot/diffpilot/internal/core"
	"github.com/diffpilot/diffpilot/internal/review"
	"github.com/diffpilot/diffpilot/internal/server"
)

// App holds the main application components.
type App struct {
	Cfg        *config.Config
	Logger     *slog.Logger
	Service    *review.Service
	Server     *server.Server
	Dispatcher core.JobDispatcher
}

// NewApp assembles the application from its wired components.
func NewApp(cfg *config.Config, logger *slog.Logger, svc *review.Service, srv *server.Server, dispatcher core.JobDispatcher) *App {
	return &App{
		Cfg:        cfg,
		Logger:     logger,
		Service:    svc,
		Server:     srv,
		Dispatcher: dispatcher,
	}
}

// Start runs the HTTP server and blocks until shutdown or error.
func (a *App) Start() error {
	a.Logger.Info("starting diffpilot",
		"server_port", a.Cfg.ServerPort,
		"main_model", a.Cfg.MainModel,
		"max_iterations", a.Cfg.MaxIterations)

	if err := a.Server.Start(); err != nil {
		a.Logger.Error("failed to start HTTP server", "error", err)
		return err
	}
	return nil
}

// Stop shuts down the application cleanly.
func (a *App) Stop() error {
	a.Logger.Info("shutting down diffpilot services")

	// Stop the HTTP server first to prevent new incoming requests.
	err := a.Server.Stop()
	if err != nil {
		a.Logger.Error("error during HTTP server shutdown", "error", err)
	}

	// Stop the dispatcher, allowing in-flight prefetches to finish.
	a.Dispatcher.Stop()

	if err != nil {
		return err
	}
	a.Logger.Info("diffpilot stopped")
	return nil
}
