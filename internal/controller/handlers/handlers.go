// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"execplane/internal/clientupdate"
	"execplane/internal/logger"
	"execplane/internal/orchestrator"
	"execplane/internal/output"
	"execplane/internal/query"
	"execplane/internal/store"
	"execplane/internal/transport"
	"execplane/pkg/api"

	"github.com/google/uuid"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Mailbox is the agent side of the pull transport.
type Mailbox interface {
	Poll(ctx context.Context, clientID, version string, wait time.Duration) (*api.Command, error)
	Connected() []transport.ClientInfo
}

// CertificateSearcher looks up certificates in the certificate directory.
type CertificateSearcher interface {
	Search(ctx context.Context, commonName string, pageSize int) (*api.CertificatesResponse, error)
}

// Deps are the collaborators the handlers need. Certificates may be nil.
type Deps struct {
	Coordinator  *orchestrator.Coordinator
	Query        *query.Service
	Output       *output.Buffer
	Updates      *clientupdate.Dispatcher
	Scripts      store.ScriptStore
	Mailbox      Mailbox
	Certificates CertificateSearcher
	Health       Pinger
	Logger       *slog.Logger
	// MaxPollWait caps the agent long poll. Defaults to 30s.
	MaxPollWait time.Duration
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	coordinator  *orchestrator.Coordinator
	query        *query.Service
	output       *output.Buffer
	updates      *clientupdate.Dispatcher
	scripts      store.ScriptStore
	mailbox      Mailbox
	certificates CertificateSearcher
	health       Pinger
	logger       *slog.Logger
	maxPollWait  time.Duration
}

func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxPollWait <= 0 {
		d.MaxPollWait = 30 * time.Second
	}
	return &Handlers{
		coordinator:  d.Coordinator,
		query:        d.Query,
		output:       d.Output,
		updates:      d.Updates,
		scripts:      d.Scripts,
		mailbox:      d.Mailbox,
		certificates: d.Certificates,
		health:       d.Health,
		logger:       d.Logger,
		maxPollWait:  d.MaxPollWait,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message, code string, status int) {
	h.respondJson(w, status, api.ErrorResponse{Error: message, Code: code})
}

// writeError maps domain errors to responses. Unknown errors are logged and
// answered with a generic message.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context(), h.logger)

	switch {
	case errors.Is(err, store.ErrValidation):
		h.httpError(w, err.Error(), api.CodeValidation, http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, err.Error(), api.CodeNotFound, http.StatusNotFound)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInvalidTransition):
		log.ErrorContext(r.Context(), "state conflict reached handler", "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		h.httpError(w, "temporary conflict, retry", api.CodeRetryable, http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrBufferSealed):
		log.WarnContext(r.Context(), "output rejected, buffer sealed", "path", r.URL.Path)
		h.httpError(w, "output buffer is sealed", api.CodeSealed, http.StatusConflict)
	default:
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "internal server error", api.CodeInternal, http.StatusInternalServerError)
	}
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return store.Invalid("body", "malformed JSON: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, store.Invalid("id", "must be a uuid")
	}
	return id, nil
}

// queryInt parses an optional integer parameter; absent means def.
func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, store.Invalid(name, "must be an integer")
	}
	return n, nil
}
