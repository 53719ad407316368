package controller

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"execplane/internal/clientupdate"
	"execplane/internal/controller/handlers"
	"execplane/internal/metrics"
	"execplane/internal/orchestrator"
	"execplane/internal/output"
	"execplane/internal/query"
	"execplane/internal/store/memory"
	"execplane/internal/transport/mailbox"

	"github.com/stretchr/testify/assert"
)

func newRoutes(t *testing.T) http.Handler {
	t.Helper()
	s := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := mailbox.New(mailbox.Config{})
	buf := output.NewBuffer(s, s, metrics.NewNoopSink())
	coord := orchestrator.New(s, buf, registry, orchestrator.Config{Scripts: s, Logger: log})
	t.Cleanup(coord.Wait)

	h := handlers.New(handlers.Deps{
		Coordinator: coord,
		Query:       query.NewService(s, 50, 500),
		Output:      buf,
		Updates:     clientupdate.NewDispatcher(s, registry, metrics.NewNoopSink(), log),
		Scripts:     s,
		Mailbox:     registry,
		Health:      s,
		Logger:      log,
	})

	return Routes(ServerConfig{
		InternalSecret: "agent-secret",
		RateLimit:      100,
		RateLimitBurst: 100,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	}, h)
}

func TestRoutes_Authentication(t *testing.T) {
	routes := newRoutes(t)

	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		value      string
		wantStatus int
	}{
		{"healthz is open", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"readyz is open", http.MethodGet, "/readyz", "", "", http.StatusOK},
		{"metrics is open", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"public needs bearer", http.MethodGet, "/executions", "", "", http.StatusUnauthorized},
		{"public with bearer", http.MethodGet, "/executions", "Authorization", "Bearer ui-token", http.StatusOK},
		{"internal needs secret", http.MethodGet, "/internal/clients/c-1/commands?wait=0s", "", "", http.StatusUnauthorized},
		{"internal rejects gateway token", http.MethodGet, "/internal/clients/c-1/commands?wait=0s", "Authorization", "Bearer ui-token", http.StatusUnauthorized},
		{"internal with secret", http.MethodGet, "/internal/clients/c-1/commands?wait=0s", "Authorization", "Bearer agent-secret", http.StatusNoContent},
		{"unknown route", http.MethodGet, "/jobs", "Authorization", "Bearer ui-token", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			routes.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		})
	}
}

func TestRoutes_CatalogEnforcedOnTrigger(t *testing.T) {
	routes := newRoutes(t)

	req := httptest.NewRequest(http.MethodPost, "/trigger-execution", strings.NewReader(`{"scriptId":"unknown","clientId":"c-1"}`))
	req.Header.Set("Authorization", "Bearer ui-token")
	rr := httptest.NewRecorder()
	routes.ServeHTTP(rr, req.WithContext(context.Background()))

	assert.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := New(ServerConfig{Addr: "127.0.0.1:0"}, handlers.New(handlers.Deps{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	assert.NoError(t, <-done)
}
