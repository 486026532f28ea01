// Package server implements the HTTP API over an embedded engine:
// graph inspection, run launch and abort, and run/step queries.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	orikata "github.com/orikata-ai/orikata"
)

// Server is the Orikata HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds all dependencies and settings for creating a Server.
type Config struct {
	Engine *orikata.Engine
	Logger *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string

	// OpenAPISpec, when set, is served at GET /openapi.yaml.
	OpenAPISpec []byte
}

// New creates an HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(cfg.Engine, cfg.Logger, cfg.Version)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HandleHealth)

	if len(cfg.OpenAPISpec) > 0 {
		spec := cfg.OpenAPISpec
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(spec)
		})
	}

	mux.HandleFunc("GET /v1/graphs", h.HandleListGraphs)
	mux.HandleFunc("GET /v1/graphs/{slug}", h.HandleGetGraph)
	mux.HandleFunc("GET /v1/graphs/{slug}/binding", h.HandleGetBinding)
	mux.HandleFunc("POST /v1/graphs/{slug}/runs", h.HandleStartRun)

	mux.HandleFunc("GET /v1/runs", h.HandleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", h.HandleGetRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/abort", h.HandleAbortRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/steps", h.HandleGetSteps)

	// Middleware chain (outermost executes first):
	// request ID -> tracing -> logging -> recovery -> handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
