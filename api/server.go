// Package api provides the HTTP REST API for the document QA service.
//
// Endpoints:
//
//	POST   /api/ask                                → answer a question
//	POST   /api/documents                          → upload a document (multipart)
//	POST   /api/text                               → ingest raw text
//	GET    /api/sources/{conversation_id}          → list a conversation's sources
//	DELETE /api/sources/{conversation_id}/{source...} → remove a source
//	POST   /api/conversations/{id}/clear           → reset dialogue history
//	GET    /api/collection                         → vector collection stats
//	GET    /health, GET /ready                     → probes
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery, CORS)
//   - health.go: probes and collection stats
//   - ask.go: question answering and conversation reset
//   - documents.go: ingestion and source management
//   - response.go: JSON response helpers
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/docqa/docqa/internal/log"
	"github.com/docqa/docqa/internal/rag"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8000"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	// Uploads can be large, so it is generous.
	ReadTimeout = 60 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Model generation dominates, so it is the longest.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	corsOrigins []string

	// Handlers
	health    *HealthHandler
	ask       *AskHandler
	documents *DocumentsHandler
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(engine *rag.Engine, corsOrigins []string, logger log.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:         mux,
		logger:      logger,
		corsOrigins: corsOrigins,
		health:      NewHealthHandler(engine, logger),
		ask:         NewAskHandler(engine, logger),
		documents:   NewDocumentsHandler(engine, logger),
	}

	s.health.RegisterRoutes(mux)
	s.ask.RegisterRoutes(mux)
	s.documents.RegisterRoutes(mux)

	return s, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → CORS → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		corsMiddleware(s.corsOrigins),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
