package handlers

import (
	"execplane/internal/store"
	"execplane/pkg/api"
)

func toExecutionResponse(e *store.Execution) api.ExecutionResponse {
	resp := api.ExecutionResponse{
		ID:             e.ID.String(),
		ScriptID:       e.ScriptID,
		ScriptName:     e.ScriptName,
		ClientID:       e.ClientID,
		TriggerType:    string(e.TriggerType),
		Status:         string(e.Status),
		CreatedAt:      e.CreatedAt,
		DispatchedAt:   e.DispatchedAt,
		StartedAt:      e.StartedAt,
		FinishedAt:     e.FinishedAt,
		LastActivityAt: e.LastActivityAt,
		ExitCode:       e.ExitCode,
		ErrorMessage:   e.ErrorMessage,
		DurationMs:     e.DurationMs,
	}
	if e.ErrorKind != nil {
		kind := string(*e.ErrorKind)
		resp.ErrorKind = &kind
	}
	return resp
}

func toUpdateJobResponse(j *store.ClientUpdateJob) api.ClientUpdateJobResponse {
	return api.ClientUpdateJobResponse{
		ID:            j.ID.String(),
		ClientID:      j.ClientID,
		TargetVersion: j.TargetVersion,
		Status:        string(j.Status),
		Reason:        j.Reason,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func toScriptResponse(s *store.Script) api.ScriptResponse {
	return api.ScriptResponse{
		ID:             s.ID,
		Name:           s.Name,
		Type:           string(s.Type),
		ContentHash:    s.ContentHash,
		Version:        s.Version,
		Enabled:        s.Enabled,
		TimeoutSeconds: s.TimeoutSeconds,
		UpdatedAt:      s.UpdatedAt,
	}
}

func toOutputChunks(chunks []store.OutputChunk) []api.OutputChunk {
	out := make([]api.OutputChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, api.OutputChunk{
			SequenceNumber: c.SequenceNumber,
			Stream:         c.Stream,
			Payload:        c.Payload,
			IsFinal:        c.IsFinal,
			CreatedAt:      c.CreatedAt,
		})
	}
	return out
}

func toAssignmentResponse(a store.Assignment, script *store.Script) api.AssignmentResponse {
	resp := api.AssignmentResponse{
		ScriptID:  a.ScriptID,
		ClientID:  a.ClientID,
		CreatedAt: a.CreatedAt,
	}
	if script != nil {
		s := toScriptResponse(script)
		resp.Script = &s
	}
	return resp
}
