// Package transport defines how the orchestration core reaches remote clients.
package transport

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecutionCommand asks a client to run a script snapshot.
type ExecutionCommand struct {
	ExecutionID    uuid.UUID
	ClientID       string
	ScriptID       string
	ScriptName     string
	ScriptType     string
	Content        string
	ContentHash    string
	TimeoutSeconds int
}

// UpdateCommand asks a client to update itself. A nil TargetVersion means latest.
type UpdateCommand struct {
	JobID         uuid.UUID
	ClientID      string
	TargetVersion *string
}

// AbortCommand asks a client to stop an execution.
type AbortCommand struct {
	ExecutionID uuid.UUID
	ClientID    string
}

// Transport hands commands to remote clients. Delivery is asynchronous: a nil
// error means the command was accepted for delivery, not that it ran.
// Failures wrap store.ErrClientUnreachable.
type Transport interface {
	DeliverExecution(ctx context.Context, cmd ExecutionCommand) error
	DeliverUpdate(ctx context.Context, cmd UpdateCommand) error
	Abort(ctx context.Context, cmd AbortCommand) error
}

// ClientInfo is a presence record kept by transports that track connections.
type ClientInfo struct {
	ClientID    string
	Version     string
	ConnectedAt time.Time
	LastSeenAt  time.Time
	Circuit     string
}

// Presence is implemented by transports that know which clients are connected.
type Presence interface {
	Connected() []ClientInfo
}
