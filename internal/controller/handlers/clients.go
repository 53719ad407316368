package handlers

import (
	"net/http"

	"execplane/pkg/api"
)

// ListClients handles GET /clients.
func (h *Handlers) ListClients(w http.ResponseWriter, r *http.Request) {
	connected := h.mailbox.Connected()
	resp := api.ClientsResponse{Clients: make([]api.ConnectedClient, 0, len(connected))}
	for _, c := range connected {
		resp.Clients = append(resp.Clients, api.ConnectedClient{
			ClientID:    c.ClientID,
			Version:     c.Version,
			ConnectedAt: c.ConnectedAt,
			LastSeenAt:  c.LastSeenAt,
			Circuit:     c.Circuit,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListCertificates handles GET /certificates?commonName&pageSize, a read-only
// view of the certificate directory.
func (h *Handlers) ListCertificates(w http.ResponseWriter, r *http.Request) {
	if h.certificates == nil {
		h.httpError(w, "certificate directory is not configured", "unavailable", http.StatusServiceUnavailable)
		return
	}
	pageSize, err := queryInt(r, "pageSize", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if pageSize < 0 || pageSize > 1000 {
		h.httpError(w, "pageSize: must be between 0 and 1000", api.CodeValidation, http.StatusBadRequest)
		return
	}

	res, err := h.certificates.Search(r.Context(), r.URL.Query().Get("commonName"), int(pageSize))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "certificate directory lookup failed", "error", err)
		h.httpError(w, "certificate directory unavailable", "upstream_error", http.StatusBadGateway)
		return
	}
	h.respondJson(w, http.StatusOK, res)
}
