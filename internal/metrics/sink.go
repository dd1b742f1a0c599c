// Package metrics records operational counters for cycles, deliveries and the notifier.
package metrics

import "time"

// Sink records metrics. Implementations must be non-blocking and safe for
// concurrent use; failures are never surfaced to callers.
type Sink interface {
	CycleCompleted(result string, duration time.Duration)
	QueueBuilt(length int)
	DeliveryAttempt(outcome string)
	DeliveryOutcome(outcome string)
	GateDenied(decision string)
	NotifierDropped()
}

// NoopSink discards everything.
type NoopSink struct{}

func (NoopSink) CycleCompleted(string, time.Duration) {}
func (NoopSink) QueueBuilt(int)                       {}
func (NoopSink) DeliveryAttempt(string)               {}
func (NoopSink) DeliveryOutcome(string)               {}
func (NoopSink) GateDenied(string)                    {}
func (NoopSink) NotifierDropped()                     {}

// OrNoop returns s, or NoopSink when s is nil.
func OrNoop(s Sink) Sink {
	if s == nil {
		return NoopSink{}
	}
	return s
}
