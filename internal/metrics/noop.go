package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (n *NoopSink) ReconcileCompleted(time.Duration, int, int, int, error) {}
func (n *NoopSink) LedgerSize(int)                                         {}
func (n *NoopSink) JobScheduled(string)                                    {}
func (n *NoopSink) JobFired()                                              {}
func (n *NoopSink) JobsAbandoned(int)                                      {}
func (n *NoopSink) JobsPending(int)                                        {}
func (n *NoopSink) TaskCompleted(time.Duration, bool)                      {}
func (n *NoopSink) SendOutcome(string, string)                             {}
func (n *NoopSink) SendAttempt(string, time.Duration)                      {}

var _ Sink = (*NoopSink)(nil)
