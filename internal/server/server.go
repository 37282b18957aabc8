// Package server exposes the pipeline over a small HTTP API: query stored
// filings and exits, trigger runs, and report health.
package server

import (
	"context"
	"net/http"
	"time"

	"filings-pipeline/internal/common/logging"
)

// Server wraps http.Server with sane timeouts and graceful shutdown.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

// New creates a server listening on the given port.
func New(handler http.Handler, port string, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server listening", logging.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", err)
		}
	}()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
