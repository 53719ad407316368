package handlers

import (
	"net/http"
	"time"

	"execplane/internal/store"
	"execplane/pkg/api"
)

const catalogBackupVersion = "1"

// ExportCatalog handles GET /catalog/backup. It returns every script with its
// content and every assignment.
func (h *Handlers) ExportCatalog(w http.ResponseWriter, r *http.Request) {
	scripts, err := h.scripts.ListScripts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	assignments, err := h.scripts.ListAssignments(r.Context(), store.AssignmentFilter{})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	backup := api.CatalogBackup{
		Version:     catalogBackupVersion,
		ExportedAt:  time.Now().UTC(),
		Scripts:     make([]api.BackupScript, 0, len(scripts)),
		Assignments: make([]api.BackupAssignment, 0, len(assignments)),
	}
	for _, s := range scripts {
		backup.Scripts = append(backup.Scripts, api.BackupScript{
			ID:             s.ID,
			Name:           s.Name,
			Type:           string(s.Type),
			Content:        s.Content,
			Enabled:        s.Enabled,
			TimeoutSeconds: s.TimeoutSeconds,
		})
	}
	for _, a := range assignments {
		backup.Assignments = append(backup.Assignments, api.BackupAssignment{ScriptID: a.ScriptID, ClientID: a.ClientID})
	}
	h.respondJson(w, http.StatusOK, backup)
}

// ImportCatalog handles POST /catalog/backup. The whole backup is validated
// before anything is written; scripts are upserted, so unchanged content keeps
// its version. Existing entries missing from the backup are left alone.
func (h *Handlers) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	var backup api.CatalogBackup
	if err := decodeJSON(w, r, &backup); err != nil {
		h.writeError(w, r, err)
		return
	}
	scripts, err := validateBackup(backup)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	for _, s := range scripts {
		if err := h.scripts.UpsertScript(r.Context(), s); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	for _, a := range backup.Assignments {
		if err := h.scripts.AssignScript(r.Context(), a.ScriptID, a.ClientID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	h.logger.InfoContext(r.Context(), "catalog imported", "scripts", len(scripts), "assignments", len(backup.Assignments))
	h.respondJson(w, http.StatusOK, api.ImportBackupResponse{
		Scripts:     len(scripts),
		Assignments: len(backup.Assignments),
	})
}

// validateBackup converts the backup's scripts. Every assignment must name a
// script of the same backup.
func validateBackup(backup api.CatalogBackup) ([]*store.Script, error) {
	if backup.Version != catalogBackupVersion {
		return nil, store.Invalid("version", "unsupported backup version %q", backup.Version)
	}

	scripts := make([]*store.Script, 0, len(backup.Scripts))
	ids := make(map[string]bool, len(backup.Scripts))
	for i, bs := range backup.Scripts {
		enabled := bs.Enabled
		s, err := scriptFromRequest(bs.ID, api.PutScriptRequest{
			Name:           bs.Name,
			Type:           bs.Type,
			Content:        bs.Content,
			Enabled:        &enabled,
			TimeoutSeconds: bs.TimeoutSeconds,
		})
		if err != nil {
			return nil, store.Invalid("scripts", "entry %d: %v", i, err)
		}
		if ids[s.ID] {
			return nil, store.Invalid("scripts", "duplicate id %q", s.ID)
		}
		ids[s.ID] = true
		scripts = append(scripts, s)
	}

	for i, a := range backup.Assignments {
		if a.ClientID == "" {
			return nil, store.Invalid("assignments", "entry %d: clientId must not be empty", i)
		}
		if !ids[a.ScriptID] {
			return nil, store.Invalid("assignments", "entry %d: script %q is not in the backup", i, a.ScriptID)
		}
	}
	return scripts, nil
}
