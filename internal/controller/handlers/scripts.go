package handlers

import (
	"net/http"
	"strings"

	"execplane/internal/store"
	"execplane/pkg/api"
)

// PutScript handles PUT /scripts/{id}. The version increases whenever content changes.
func (h *Handlers) PutScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req api.PutScriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	script, err := scriptFromRequest(id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.scripts.UpsertScript(r.Context(), script); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toScriptResponse(script))
}

func scriptFromRequest(id string, req api.PutScriptRequest) (*store.Script, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.Invalid("id", "must not be empty")
	}
	typ := store.ScriptType(strings.ToUpper(req.Type))
	if !typ.Valid() {
		return nil, store.Invalid("type", "must be one of BASH, JAVASCRIPT, LUA")
	}
	if req.Content == "" {
		return nil, store.Invalid("content", "must not be empty")
	}
	if req.TimeoutSeconds < 0 {
		return nil, store.Invalid("timeoutSeconds", "must not be negative")
	}

	name := req.Name
	if name == "" {
		name = id
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	return &store.Script{
		ID:             id,
		Name:           name,
		Type:           typ,
		Content:        req.Content,
		ContentHash:    store.HashContent(req.Content),
		Enabled:        enabled,
		TimeoutSeconds: req.TimeoutSeconds,
	}, nil
}

// GetScript handles GET /scripts/{id}.
func (h *Handlers) GetScript(w http.ResponseWriter, r *http.Request) {
	script, err := h.scripts.GetScript(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toScriptResponse(script))
}

// AssignScript handles PUT /scripts/{id}/assignments/{clientId}.
func (h *Handlers) AssignScript(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientId")
	if clientID == "" {
		h.writeError(w, r, store.Invalid("clientId", "must not be empty"))
		return
	}
	if err := h.scripts.AssignScript(r.Context(), r.PathValue("id"), clientID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListScripts handles GET /scripts.
func (h *Handlers) ListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := h.scripts.ListScripts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]api.ScriptResponse, 0, len(scripts))
	for i := range scripts {
		items = append(items, toScriptResponse(&scripts[i]))
	}
	h.respondJson(w, http.StatusOK, api.ScriptsResponse{Items: items})
}

// DeleteScript handles DELETE /scripts/{id}. Its assignments go with it;
// executions keep the name and hash they were created with.
func (h *Handlers) DeleteScript(w http.ResponseWriter, r *http.Request) {
	if err := h.scripts.DeleteScript(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnassignScript handles DELETE /scripts/{id}/assignments/{clientId}.
func (h *Handlers) UnassignScript(w http.ResponseWriter, r *http.Request) {
	if err := h.scripts.UnassignScript(r.Context(), r.PathValue("id"), r.PathValue("clientId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAssignments handles GET /scripts/{id}/assignments.
func (h *Handlers) ListAssignments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.scripts.GetScript(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	assignments, err := h.scripts.ListAssignments(r.Context(), store.AssignmentFilter{ScriptID: id})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]api.AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		items = append(items, toAssignmentResponse(a, nil))
	}
	h.respondJson(w, http.StatusOK, api.AssignmentsResponse{Items: items})
}

// ListClientScripts handles GET /clients/{clientId}/scripts: the scripts a
// client may run, with their catalog entry.
func (h *Handlers) ListClientScripts(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.scripts.ListAssignments(r.Context(), store.AssignmentFilter{ClientID: r.PathValue("clientId")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	scripts, err := h.scripts.ListScripts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	byID := make(map[string]*store.Script, len(scripts))
	for i := range scripts {
		byID[scripts[i].ID] = &scripts[i]
	}

	items := make([]api.AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		script, ok := byID[a.ScriptID]
		if !ok {
			// deleted between the two reads
			continue
		}
		items = append(items, toAssignmentResponse(a, script))
	}
	h.respondJson(w, http.StatusOK, api.AssignmentsResponse{Items: items})
}
