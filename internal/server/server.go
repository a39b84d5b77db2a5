// Package server exposes the HTTP API. Every payload that matters --
// wrapped keys, credential ciphertexts, signatures -- is opaque to it; the
// server checks authorization and signature validity, never plaintext.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/BERNARDO31P/Password-Safe/internal/store"
)

// DefaultPageSize is the page size for every paged listing.
const DefaultPageSize = 10

// Config holds server configuration.
type Config struct {
	Port int
	Dev  bool
}

// Server is the HTTP server for Password-Safe.
type Server struct {
	config     Config
	httpServer *http.Server
	store      store.Store
}

// New creates a new Server with the given configuration.
// The store parameter may be nil (e.g., in tests that don't need a database).
func New(cfg Config, st store.Store) *Server {
	s := &Server{
		config: cfg,
		store:  st,
	}

	handler := s.routes()
	handler = requestLogger(handler)
	handler = securityHeaders(handler)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler returns the server's HTTP handler. Useful for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.store != nil {
		s.startSessionCleanup(ctx)
	}

	s.startupWarnings()

	slog.Info("starting password-safe server", "addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// startSessionCleanup runs a background goroutine that deletes expired sessions
// every 5 minutes. It stops when ctx is cancelled.
func (s *Server) startSessionCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				count, err := s.store.CleanExpiredSessions(ctx)
				if err != nil {
					slog.Error("session cleanup failed", "error", err)
					continue
				}
				if count > 0 {
					slog.Info("cleaned expired sessions", "count", count)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// startupWarnings logs deployment warnings. Dev mode runs plaintext on
// purpose, so the TLS warning is suppressed there.
func (s *Server) startupWarnings() {
	if s.config.Dev {
		return
	}
	warning := `
========================================================
  WARNING: Server is running without TLS.
  Do NOT use in production without a TLS-terminating
  reverse proxy (nginx, caddy, etc).
========================================================`
	fmt.Fprintln(os.Stderr, warning)
	slog.Warn("server running without TLS",
		"action_required", "deploy behind TLS-terminating reverse proxy",
	)
}
