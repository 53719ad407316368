package handlers

import (
	"net/http"
	"time"

	"execplane/internal/store"
	"execplane/pkg/api"
)

// ---------------------------------------------------------
// Internal Agent Endpoints
// Guarded by the internal secret, not the gateway token.
// ---------------------------------------------------------

const defaultPollWait = 25 * time.Second

// PollCommands handles GET /internal/clients/{clientId}/commands?version=&wait=.
// It blocks until a command arrives or wait elapses, then answers 204.
func (h *Handlers) PollCommands(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientId")
	if clientID == "" {
		h.writeError(w, r, store.Invalid("clientId", "must not be empty"))
		return
	}

	wait := defaultPollWait
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			h.writeError(w, r, store.Invalid("wait", "must be a non-negative duration"))
			return
		}
		wait = d
	}
	if wait > h.maxPollWait {
		wait = h.maxPollWait
	}

	cmd, err := h.mailbox.Poll(r.Context(), clientID, r.URL.Query().Get("version"), wait)
	if err != nil {
		// The agent went away mid-poll.
		if r.Context().Err() != nil {
			return
		}
		h.writeError(w, r, err)
		return
	}
	if cmd == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondJson(w, http.StatusOK, cmd)
}

// ClientTrigger handles POST /internal/clients/{clientId}/executions, a trigger
// requested by the client itself.
func (h *Handlers) ClientTrigger(w http.ResponseWriter, r *http.Request) {
	var req api.ClientTriggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.coordinator.TriggerFromClient(r.Context(), req.ScriptID, r.PathValue("clientId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toExecutionResponse(e))
}

// InternalAck handles PUT /internal/executions/{id}/ack.
func (h *Handlers) InternalAck(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.AckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.coordinator.HandleAck(r.Context(), id, req.Accepted, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toExecutionResponse(e))
}

// InternalStart handles PUT /internal/executions/{id}/start.
func (h *Handlers) InternalStart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.coordinator.HandleStart(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toExecutionResponse(e))
}

// InternalOutput handles POST /internal/executions/{id}/output.
// A sealed buffer answers 409 and the agent stops sending.
func (h *Handlers) InternalOutput(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.OutputRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	chunk, err := h.coordinator.HandleOutput(r.Context(), id, req.Stream, req.Payload, req.IsFinal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusAccepted, toOutputChunks([]store.OutputChunk{*chunk})[0])
}

// InternalResult handles PUT /internal/executions/{id}/result.
func (h *Handlers) InternalResult(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.ResultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.DurationMs < 0 {
		h.writeError(w, r, store.Invalid("durationMs", "must not be negative"))
		return
	}

	e, err := h.coordinator.HandleResult(r.Context(), id, req.ExitCode, req.Error, req.DurationMs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toExecutionResponse(e))
}

// InternalUpdateAck handles PUT /internal/client-updates/{id}/ack.
func (h *Handlers) InternalUpdateAck(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.UpdateAckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	job, err := h.updates.HandleAck(r.Context(), id, req.Delivered, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toUpdateJobResponse(job))
}
