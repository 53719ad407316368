// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"execplane/internal/controller/handlers"
	"execplane/internal/controller/middleware"
)

// ServerConfig holds the listener and middleware settings.
type ServerConfig struct {
	Addr           string
	TokenHashes    []string
	InternalSecret string
	RateLimit      float64
	RateLimitBurst int
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// WriteTimeout must exceed the longest agent poll.
	WriteTimeout time.Duration
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(cfg ServerConfig, h *handlers.Handlers) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           Routes(cfg, h),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}
}

// Routes builds the full handler tree.
func Routes(cfg ServerConfig, h *handlers.Handlers) http.Handler {
	limiter := middleware.NewRateLimiter(middleware.WithLimit(cfg.RateLimit, cfg.RateLimitBurst))
	authMW := middleware.AuthMiddleware(cfg.TokenHashes)
	rateMW := limiter.Middleware()
	public := func(fn http.HandlerFunc) http.Handler {
		return authMW(rateMW(fn))
	}
	internalMW := middleware.RequireInternalAuth(cfg.InternalSecret)
	internal := func(fn http.HandlerFunc) http.Handler {
		return internalMW(fn)
	}

	mux := http.NewServeMux()

	// Probes
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Public authenticated apis
	mux.Handle("POST /trigger-execution", public(h.TriggerExecution))
	mux.Handle("GET /execution/{id}", public(h.GetExecution))
	mux.Handle("GET /execution/{id}/output", public(h.GetOutput))
	mux.Handle("GET /execution/{id}/transitions", public(h.GetTransitions))
	mux.Handle("POST /execution/{id}/cancel", public(h.CancelExecution))
	mux.Handle("GET /executions", public(h.ListExecutions))
	mux.Handle("GET /executions/stats", public(h.Stats))
	mux.Handle("POST /trigger-client-update", public(h.TriggerClientUpdate))
	mux.Handle("GET /client-update/{id}", public(h.GetClientUpdate))
	mux.Handle("GET /clients", public(h.ListClients))
	mux.Handle("GET /certificates", public(h.ListCertificates))
	mux.Handle("PUT /scripts/{id}", public(h.PutScript))
	mux.Handle("GET /scripts/{id}", public(h.GetScript))
	mux.Handle("GET /scripts", public(h.ListScripts))
	mux.Handle("DELETE /scripts/{id}", public(h.DeleteScript))
	mux.Handle("GET /scripts/{id}/assignments", public(h.ListAssignments))
	mux.Handle("PUT /scripts/{id}/assignments/{clientId}", public(h.AssignScript))
	mux.Handle("DELETE /scripts/{id}/assignments/{clientId}", public(h.UnassignScript))
	mux.Handle("GET /clients/{clientId}/scripts", public(h.ListClientScripts))
	mux.Handle("GET /catalog/backup", public(h.ExportCatalog))
	mux.Handle("POST /catalog/backup", public(h.ImportCatalog))

	// Internal endpoints
	// These are called by the agent.
	mux.Handle("GET /internal/clients/{clientId}/commands", internal(h.PollCommands))
	mux.Handle("POST /internal/clients/{clientId}/executions", internal(h.ClientTrigger))
	mux.Handle("PUT /internal/executions/{id}/ack", internal(h.InternalAck))
	mux.Handle("PUT /internal/executions/{id}/start", internal(h.InternalStart))
	mux.Handle("POST /internal/executions/{id}/output", internal(h.InternalOutput))
	mux.Handle("PUT /internal/executions/{id}/result", internal(h.InternalResult))
	mux.Handle("PUT /internal/client-updates/{id}/ack", internal(h.InternalUpdateAck))

	return middleware.RequestID(middleware.Tracing(mux))
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
