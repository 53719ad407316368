// Package metrics records domain counters for the orchestration core.
package metrics

import "time"

// Sink records orchestration metrics.
// Implementations must not block or return errors.
type Sink interface {
	// Coordinator
	TriggerOutcome(outcome string)
	ExecutionTransition(to string)
	ExecutionLatencyObserve(latency time.Duration)

	// Transport
	DeliveryOutcome(kind, outcome string)

	// Output buffer
	SealedAppendRejected()

	// Sweeper
	SweepCompleted(duration time.Duration, timedOut int, err error)

	// Client updates
	UpdateJobOutcome(status string)
}

// Trigger outcomes.
const (
	TriggerCreated      = "created"
	TriggerDeduplicated = "deduplicated"
	TriggerUnreachable  = "unreachable"
)

// Delivery kinds and outcomes.
const (
	DeliveryKindExecution = "execution"
	DeliveryKindUpdate    = "update"
	DeliveryKindAbort     = "abort"

	DeliveryDelivered   = "delivered"
	DeliveryUnreachable = "unreachable"
	DeliveryCircuitOpen = "circuit_open"
)
