// Package server provides HTTP server lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/solatis/aem/internal/core/config"
)

// shutdownTimeout bounds graceful shutdown when the caller's context has no deadline.
const shutdownTimeout = 30 * time.Second

// HTTPServer manages the local API listener.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	config   config.APIConfig
	log      *slog.Logger
}

// NewHTTPServer creates a server for handler bound to cfg's address.
func NewHTTPServer(cfg config.APIConfig, handler http.Handler, log *slog.Logger) (*HTTPServer, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &HTTPServer{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: cfg,
		log:    log.With(slog.String("component", "http_server")),
	}, nil
}

// Listen binds the listener without serving. Start calls it when needed.
func (s *HTTPServer) Listen() error {
	if s.listener != nil {
		return nil
	}
	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *HTTPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr()
}

// Start binds the listener and serves requests. It blocks until Shutdown
// is called and then returns nil.
func (s *HTTPServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	s.log.Info("http server listening", slog.String("addr", s.Addr()))
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, forcing close after 30 seconds or
// when ctx ends.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.log.Info("http server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		s.server.Close()
		return fmt.Errorf("graceful shutdown failed, forced stop: %w", err)
	}
	return nil
}
