// Package store contains the domain model and persistence contracts for execplane.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "PENDING"
	ExecutionStatusDispatched ExecutionStatus = "DISPATCHED"
	ExecutionStatusRunning    ExecutionStatus = "RUNNING"
	ExecutionStatusSucceeded  ExecutionStatus = "SUCCEEDED"
	ExecutionStatusFailed     ExecutionStatus = "FAILED"
	ExecutionStatusTimedOut   ExecutionStatus = "TIMED_OUT"
	ExecutionStatusCancelled  ExecutionStatus = "CANCELLED"
)

// ErrorKind classifies why an execution ended in a non-success terminal state.
type ErrorKind string

const (
	ErrorKindClientUnreachable    ErrorKind = "ClientUnreachable"
	ErrorKindTimeout              ErrorKind = "Timeout"
	ErrorKindCancelled            ErrorKind = "Cancelled"
	ErrorKindRejectedHashMismatch ErrorKind = "RejectedHashMismatch"
	ErrorKindRejectedNotApproved  ErrorKind = "RejectedNotApproved"
	ErrorKindNonZeroExit          ErrorKind = "NonZeroExit"
	ErrorKindAgentError           ErrorKind = "AgentError"
)

// TriggerType records who initiated an execution.
type TriggerType string

const (
	TriggerTypeUIPush     TriggerType = "UI_PUSH"
	TriggerTypeClientPull TriggerType = "CLIENT_PULL"
)

// Execution is one tracked attempt to run a script on a specific remote client.
type Execution struct {
	ID             uuid.UUID
	ScriptID       string
	ScriptName     string
	ScriptHash     string
	ClientID       string
	TriggerType    TriggerType
	Status         ExecutionStatus
	CreatedAt      time.Time
	DispatchedAt   *time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	LastActivityAt time.Time
	TimeoutSeconds int
	ExitCode       *int
	ErrorKind      *ErrorKind
	ErrorMessage   *string
	DurationMs     *int64
}

// Terminal reports whether the execution can no longer change.
func (e *Execution) Terminal() bool {
	return e.Status.Terminal()
}

// Transition is one applied state change of an execution.
type Transition struct {
	ExecutionID uuid.UUID
	From        ExecutionStatus
	To          ExecutionStatus
	At          time.Time
}

// TransitionMeta carries the optional facts recorded alongside a transition.
type TransitionMeta struct {
	ExitCode     *int
	ErrorKind    *ErrorKind
	ErrorMessage *string
	DurationMs   *int64

	// IdleSince guards the transition: it is refused with ErrInvalidTransition
	// when lastActivityAt has moved past this instant.
	IdleSince *time.Time
}

// Output streams.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// OutputChunk is one ordered piece of captured output.
type OutputChunk struct {
	ExecutionID    uuid.UUID
	SequenceNumber int64
	Stream         string
	Payload        string
	IsFinal        bool
	CreatedAt      time.Time
}

// UpdateJobStatus represents the state of a client update job.
type UpdateJobStatus string

const (
	UpdateJobQueued    UpdateJobStatus = "QUEUED"
	UpdateJobDelivered UpdateJobStatus = "DELIVERED"
	UpdateJobFailed    UpdateJobStatus = "FAILED"
)

// Update job failure reasons.
const (
	UpdateReasonClientUnreachable = "client_unreachable"
	UpdateReasonRejectedPrefix    = "rejected:"
)

// ClientUpdateJob asks a remote client to update its own software.
// A nil TargetVersion means the latest known version.
type ClientUpdateJob struct {
	ID            uuid.UUID
	ClientID      string
	TargetVersion *string
	Status        UpdateJobStatus
	Reason        *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScriptType selects the interpreter used by the agent.
type ScriptType string

const (
	ScriptTypeBash       ScriptType = "BASH"
	ScriptTypeJavaScript ScriptType = "JAVASCRIPT"
	ScriptTypeLua        ScriptType = "LUA"
)

// Valid reports whether t is a known script type.
func (t ScriptType) Valid() bool {
	switch t {
	case ScriptTypeBash, ScriptTypeJavaScript, ScriptTypeLua:
		return true
	}
	return false
}

// Script is a catalog entry that can be pushed to assigned clients.
type Script struct {
	ID             string
	Name           string
	Type           ScriptType
	Content        string
	ContentHash    string
	Version        int
	Enabled        bool
	TimeoutSeconds int
	UpdatedAt      time.Time
}

// Assignment allows a client to run a script.
type Assignment struct {
	ScriptID  string
	ClientID  string
	CreatedAt time.Time
}

// AssignmentFilter narrows an assignment listing. Empty fields impose no constraint.
type AssignmentFilter struct {
	ScriptID string
	ClientID string
}

// ExecutionFilter narrows a listing. Nil fields impose no constraint.
type ExecutionFilter struct {
	ScriptID *string
	ClientID *string
	Status   *ExecutionStatus
}

// Page is a resolved, validated paging window.
type Page struct {
	Number int // 1-indexed
	Size   int
}

// Offset returns the number of rows to skip. It saturates at math.MaxInt,
// which every store treats as past the last row.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Size <= 0 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}

// HashContent is the hex SHA-256 agents verify script content against.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
