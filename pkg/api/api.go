// Package api contains shared JSON request/response structs.
// This package is shared between the controller, the agent and the CLI.
package api

import "time"

// TriggerExecutionRequest is the request body for triggering a script on a client.
// CommonName may be given instead of ClientID and is resolved through the
// certificate directory.
type TriggerExecutionRequest struct {
	ScriptID   string `json:"scriptId"`
	ClientID   string `json:"clientId,omitempty"`
	CommonName string `json:"commonName,omitempty"`
}

// ExecutionResponse represents an execution in API responses.
type ExecutionResponse struct {
	ID             string     `json:"id"`
	ScriptID       string     `json:"scriptId"`
	ScriptName     string     `json:"scriptName,omitempty"`
	ClientID       string     `json:"clientId"`
	TriggerType    string     `json:"triggerType"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	DispatchedAt   *time.Time `json:"dispatchedAt,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	ExitCode       *int       `json:"exitCode,omitempty"`
	ErrorKind      *string    `json:"errorKind,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	DurationMs     *int64     `json:"durationMs,omitempty"`
}

// ListExecutionsResponse is one page of executions.
type ListExecutionsResponse struct {
	Items []ExecutionResponse `json:"items"`
	Total int                 `json:"total"`
}

// TransitionResponse is one recorded status change.
type TransitionResponse struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// TransitionsResponse lists the transitions of an execution, oldest first.
type TransitionsResponse struct {
	ExecutionID string               `json:"executionId"`
	Transitions []TransitionResponse `json:"transitions"`
}

// StatsResponse counts executions per status.
type StatsResponse struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// OutputChunk is one ordered piece of captured output.
type OutputChunk struct {
	SequenceNumber int64     `json:"sequenceNumber"`
	Stream         string    `json:"stream"`
	Payload        string    `json:"payload"`
	IsFinal        bool      `json:"isFinal"`
	CreatedAt      time.Time `json:"createdAt"`
}

// OutputResponse is a window of output. Complete is true once the execution
// is terminal and the window reaches the last chunk.
type OutputResponse struct {
	Chunks   []OutputChunk `json:"chunks"`
	Complete bool          `json:"complete"`
}

// TriggerClientUpdateRequest asks a client to update itself.
// A missing TargetVersion means latest.
type TriggerClientUpdateRequest struct {
	ClientID      string  `json:"clientId"`
	TargetVersion *string `json:"targetVersion,omitempty"`
}

// ClientUpdateJobResponse represents a client update job.
type ClientUpdateJobResponse struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"clientId"`
	TargetVersion *string   `json:"targetVersion,omitempty"`
	Status        string    `json:"status"`
	Reason        *string   `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ConnectedClient is a remote client seen by the transport recently.
type ConnectedClient struct {
	ClientID    string    `json:"clientId"`
	Version     string    `json:"version,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	Circuit     string    `json:"circuit"`
}

// ClientsResponse lists connected clients.
type ClientsResponse struct {
	Clients []ConnectedClient `json:"clients"`
}

// Certificate is a read-only certificate directory record.
type Certificate struct {
	SerialNumber string `json:"serialNumber"`
	ClientID     string `json:"clientId"`
	CommonName   string `json:"commonName"`
	TenantID     int64  `json:"tenantId,omitempty"`
	IssuerName   string `json:"issuerName,omitempty"`
	Status       string `json:"status,omitempty"`
	CertType     string `json:"certType,omitempty"`
}

// CertificatesResponse is the certificate directory list format.
type CertificatesResponse struct {
	Items []Certificate `json:"items"`
	Total int           `json:"total"`
}

// PutScriptRequest creates or replaces a catalog script.
type PutScriptRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	Enabled        *bool  `json:"enabled,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// ScriptResponse describes a catalog script without its content.
type ScriptResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	ContentHash    string    `json:"contentHash"`
	Version        int       `json:"version"`
	Enabled        bool      `json:"enabled"`
	TimeoutSeconds int       `json:"timeoutSeconds,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type ScriptsResponse struct {
	Items []ScriptResponse `json:"items"`
}

// AssignmentResponse allows a client to run a script. Script is set when
// listing the scripts of one client.
type AssignmentResponse struct {
	ScriptID  string          `json:"scriptId"`
	ClientID  string          `json:"clientId"`
	CreatedAt time.Time       `json:"createdAt"`
	Script    *ScriptResponse `json:"script,omitempty"`
}

type AssignmentsResponse struct {
	Items []AssignmentResponse `json:"items"`
}

// CatalogBackup is the export format of the script catalog. Executions and
// their output are not part of it.
type CatalogBackup struct {
	Version     string             `json:"version"`
	ExportedAt  time.Time          `json:"exportedAt"`
	Scripts     []BackupScript     `json:"scripts"`
	Assignments []BackupAssignment `json:"assignments"`
}

type BackupScript struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	Enabled        bool   `json:"enabled"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type BackupAssignment struct {
	ScriptID string `json:"scriptId"`
	ClientID string `json:"clientId"`
}

// ImportBackupResponse counts what an import wrote.
type ImportBackupResponse struct {
	Scripts     int `json:"scripts"`
	Assignments int `json:"assignments"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeNotFound   = "not_found"
	CodeValidation = "validation_error"
	CodeRetryable  = "retryable"
	CodeSealed     = "buffer_sealed"
	CodeInternal   = "internal_error"
)

// Command kinds delivered to agents.
const (
	CommandExecute = "execute"
	CommandUpdate  = "update"
	CommandAbort   = "abort"
)

// Command is the envelope an agent receives from its mailbox.
// Trace carries the W3C trace context of the request that produced it.
type Command struct {
	Kind    string            `json:"kind"`
	Execute *ExecuteCommand   `json:"execute,omitempty"`
	Update  *UpdateCommand    `json:"update,omitempty"`
	Abort   *AbortCommand     `json:"abort,omitempty"`
	Trace   map[string]string `json:"trace,omitempty"`
}

// ExecuteCommand asks the agent to run a script.
type ExecuteCommand struct {
	ExecutionID    string `json:"executionId"`
	ScriptID       string `json:"scriptId"`
	ScriptName     string `json:"scriptName,omitempty"`
	ScriptType     string `json:"scriptType,omitempty"`
	Content        string `json:"content,omitempty"`
	ContentHash    string `json:"contentHash"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// UpdateCommand asks the agent to update its own software.
type UpdateCommand struct {
	JobID         string  `json:"jobId"`
	TargetVersion *string `json:"targetVersion,omitempty"`
}

// AbortCommand asks the agent to stop a running execution.
type AbortCommand struct {
	ExecutionID string `json:"executionId"`
}

// ClientTriggerRequest is sent by an agent that wants to run a script on itself.
type ClientTriggerRequest struct {
	ScriptID string `json:"scriptId"`
}

// AckRequest is sent by the agent after receiving an execute command.
type AckRequest struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Rejection reasons the agent reports in AckRequest.Reason.
const (
	RejectHashMismatch = "hash_mismatch"
	RejectNotApproved  = "not_approved"
)

// OutputRequest carries one piece of captured output from the agent.
type OutputRequest struct {
	Stream  string `json:"stream"`
	Payload string `json:"payload"`
	IsFinal bool   `json:"isFinal,omitempty"`
}

// ResultRequest reports how a script finished.
type ResultRequest struct {
	ExitCode   int     `json:"exitCode"`
	Error      *string `json:"error,omitempty"`
	DurationMs int64   `json:"durationMs"`
}

// UpdateAckRequest is sent by the agent after handling an update command.
type UpdateAckRequest struct {
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
}
