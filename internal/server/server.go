// Package server implements the s3pipe HTTP ingest server. Every PUT to
// /streams/{bucket}/{key} is one pipeline stream: the request body is
// rendered chunk by chunk through its own Coordinator.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bleepstore/s3pipe/internal/config"
	"github.com/bleepstore/s3pipe/internal/journal"
	"github.com/bleepstore/s3pipe/internal/pipeline"
)

// Server is the s3pipe HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	journal    journal.Journal
	open       pipeline.OpenFunc
	logger     *slog.Logger
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithJournal sets the journal transfers are recorded in and listed from.
func WithJournal(j journal.Journal) ServerOption {
	return func(s *Server) {
		s.journal = j
	}
}

// WithOpener sets the backend constructor handed to every coordinator.
func WithOpener(open pipeline.OpenFunc) ServerOption {
	return func(s *Server) {
		s.open = open
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new Server with the given configuration and wires up all
// routes on the Chi router with Huma API.
func New(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("s3pipe ingest API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:     cfg,
		router:  router,
		api:     api,
		journal: journal.Nop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler: s.Handler(),
	}
	return s, nil
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	if s.cfg.Metrics.Enabled {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe serves on Addr until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown, including one that
// happened before it was called.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// transfers to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the s3pipe server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.registerTransferRoutes()

	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	// Streams bypass Huma: the body is consumed incrementally instead of
	// being read into memory.
	s.router.Put("/streams/{bucket}/*", s.putStream)
}
