// Package metrics records pipeline counters. Every method is fire-and-forget:
// implementations must not block or return errors.
package metrics

import "time"

// Sink receives pipeline events.
type Sink interface {
	// Scheduler
	CycleStarted(trigger string)
	CycleCompleted(d time.Duration, outcome string)
	CycleSkipped(reason string)

	// Aggregator
	SourceFetched(source string, fetched int, fallback bool)
	PostingsInserted(n int)
	StoreErrors(n int)

	// Dispatcher
	DeliveryAttempt(outcome string, d time.Duration)
	DestinationDeactivated()
	ActiveDestinations(n int)
}

// Cycle outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Delivery outcomes.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliveryTimeout = "timeout"
)

// Skip reasons.
const (
	SkipInProgress = "in_progress"
	SkipLocked     = "locked"
	SkipDisabled   = "disabled"
)
