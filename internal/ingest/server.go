// Package ingest exposes the tracker over HTTP: host events come in,
// aggregated records go out.
package ingest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server is the ingest HTTP server.
type Server struct {
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new ingest server.
func NewServer(addr string, handler *Handler, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		router: router,
		logger: logger.With().Str("component", "ingest").Logger(),
	}

	router.Use(LoggingMiddleware(s.logger))

	router.HandleFunc("/health", handler.Health).Methods("GET")
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/events", handler.Events).Methods("POST")
	api.HandleFunc("/bootstrap", handler.Bootstrap).Methods("POST")
	api.HandleFunc("/stats", handler.Stats).Methods("GET")
	api.HandleFunc("/stats", handler.Clear).Methods("DELETE")
	api.HandleFunc("/resources", handler.Resources).Methods("GET")

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Serve runs the server until it is shut down.
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting ingest server")

	var err error
	if s.listener != nil {
		s.logger.Debug().Msg("Using systemd socket-activated API listener")
		err = s.server.Serve(s.listener)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ingest server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping ingest server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("ingest server shutdown: %w", err)
	}

	return nil
}
