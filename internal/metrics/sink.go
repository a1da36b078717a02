// Package metrics defines the operational counters wakebot reports and
// their Prometheus implementation.
package metrics

import "time"

// Send outcomes, per recipient.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped" // circuit open
	OutcomeDryRun  = "dry_run"
)

// Sink receives metric observations. Implementations must be safe for
// concurrent use and never block.
type Sink interface {
	// Reconciliation
	ReconcileCompleted(d time.Duration, rows, scheduled, rejected int, err error)
	LedgerSize(n int)

	// Timer engine
	JobScheduled(kind string)
	JobFired()
	JobsAbandoned(n int)
	JobsPending(n int)
	TaskCompleted(d time.Duration, failed bool)

	// Dispatch
	SendOutcome(channel, outcome string)
	SendAttempt(channel string, d time.Duration)
}
