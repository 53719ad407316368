package metrics

import "time"

// NoopSink discards everything. Used when metrics are disabled and in tests.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TriggerOutcome(outcome string)                                  {}
func (n *NoopSink) ExecutionTransition(to string)                                  {}
func (n *NoopSink) ExecutionLatencyObserve(latency time.Duration)                  {}
func (n *NoopSink) DeliveryOutcome(kind, outcome string)                           {}
func (n *NoopSink) SealedAppendRejected()                                          {}
func (n *NoopSink) SweepCompleted(duration time.Duration, timedOut int, err error) {}
func (n *NoopSink) UpdateJobOutcome(status string)                                 {}
