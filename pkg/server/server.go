package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"armouriq/armour/pkg/api"
)

// Server serves the governance API for an App.
type Server struct {
	app          *App
	httpServer   *http.Server
	handler      http.Handler
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a server for app. The App stays owned by the caller.
func NewServer(app *App) *Server {
	return &Server{
		app:          app,
		handler:      newHandler(app),
		shutdownChan: make(chan struct{}),
	}
}

func newHandler(app *App) http.Handler {
	cfg := app.Config.Server
	deps := api.Dependencies{
		Pipeline: app.Orchestrator,
		Policies: app.Engine,
		Traces:   app.Archive,
		Health:   app.Health,
		Tracer:   app.Tracer,
	}
	if app.Approvals != nil {
		deps.Approvals = app.Approvals
	}
	if app.Metrics != nil {
		deps.Metrics = app.Metrics.Handler()
	}
	if app.Keys != nil {
		deps.Keys = app.Keys
	}
	deps.Limiter = app.Limiter
	return api.New(api.Config{
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.WriteTimeout,
		MetricsPath:    app.Config.Telemetry.Metrics.Path,
		Version:        app.Version,
	}, deps, app.Logger).Routes()
}

// Start starts maintenance jobs and the HTTP server, then blocks until ctx
// is cancelled, a SIGINT/SIGTERM arrives, Stop is called or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	cfg := s.app.Config.Server
	logger := s.app.Logger

	maintCtx, stopMaintenance := context.WithCancel(context.Background())
	defer stopMaintenance()
	if err := s.app.StartMaintenance(maintCtx); err != nil {
		s.setRunning(false)
		return fmt.Errorf("failed to start maintenance jobs: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting governance server", "address", cfg.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.setRunning(false)
		return err
	case <-s.shutdownChan:
		logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown gracefully shuts down the HTTP server within the configured
// shutdown timeout. Maintenance jobs stop when Start returns.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if !s.IsRunning() {
			return
		}
		timeout := s.app.Config.Server.ShutdownTimeout
		s.app.Logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.app.Logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}
		s.setRunning(false)
		s.app.Logger.Info("governance server stopped")
	})

	return shutdownErr
}

func (s *Server) setRunning(v bool) {
	s.mu.Lock()
	s.isRunning = v
	s.mu.Unlock()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
