package handlers

import (
	"net/http"

	"execplane/pkg/api"
)

// TriggerClientUpdate handles POST /trigger-client-update. Every call creates a new job.
func (h *Handlers) TriggerClientUpdate(w http.ResponseWriter, r *http.Request) {
	var req api.TriggerClientUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	job, err := h.updates.Trigger(r.Context(), req.ClientID, req.TargetVersion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toUpdateJobResponse(job))
}

// GetClientUpdate handles GET /client-update/{id}.
func (h *Handlers) GetClientUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	job, err := h.updates.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toUpdateJobResponse(job))
}
