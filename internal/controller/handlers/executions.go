package handlers

import (
	"net/http"

	"execplane/internal/query"
	"execplane/internal/store"
	"execplane/pkg/api"
)

// TriggerExecution handles POST /trigger-execution. A commonName may stand in
// for clientId. An execution already in flight for the pair is returned as is.
func (h *Handlers) TriggerExecution(w http.ResponseWriter, r *http.Request) {
	var req api.TriggerExecutionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	var (
		e   *store.Execution
		err error
	)
	if req.ClientID == "" && req.CommonName != "" {
		e, err = h.coordinator.TriggerByCommonName(ctx, req.ScriptID, req.CommonName)
	} else {
		e, err = h.coordinator.Trigger(ctx, req.ScriptID, req.ClientID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.respondJson(w, http.StatusOK, toExecutionResponse(e))
}

// GetExecution handles GET /execution/{id}.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.query.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toExecutionResponse(e))
}

// ListExecutions handles GET /executions?scriptId&clientId&status&page&pageSize.
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "pageSize", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	res, err := h.query.List(r.Context(),
		query.Filters{ScriptID: q.Get("scriptId"), ClientID: q.Get("clientId"), Status: q.Get("status")},
		query.Paging{Page: int(page), PageSize: int(pageSize)},
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := api.ListExecutionsResponse{Items: make([]api.ExecutionResponse, 0, len(res.Items)), Total: res.Total}
	for i := range res.Items {
		resp.Items = append(resp.Items, toExecutionResponse(&res.Items[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetOutput handles GET /execution/{id}/output?fromSequence&maxChunks.
func (h *Handlers) GetOutput(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, err := queryInt(r, "fromSequence", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	maxChunks, err := queryInt(r, "maxChunks", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	win, err := h.output.Read(r.Context(), id, from, int(maxChunks))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.OutputResponse{Chunks: toOutputChunks(win.Chunks), Complete: win.Complete})
}

// CancelExecution handles POST /execution/{id}/cancel.
func (h *Handlers) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.coordinator.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toExecutionResponse(e))
}

// GetTransitions handles GET /execution/{id}/transitions.
func (h *Handlers) GetTransitions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	transitions, err := h.query.Transitions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := api.TransitionsResponse{ExecutionID: id.String(), Transitions: make([]api.TransitionResponse, 0, len(transitions))}
	for _, tr := range transitions {
		resp.Transitions = append(resp.Transitions, api.TransitionResponse{From: string(tr.From), To: string(tr.To), At: tr.At})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// Stats handles GET /executions/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.query.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := api.StatsResponse{Counts: make(map[string]int64, len(counts))}
	for st, n := range counts {
		resp.Counts[string(st)] = n
		resp.Total += n
	}
	h.respondJson(w, http.StatusOK, resp)
}
