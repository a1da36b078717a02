package app

import (
	"context"
	"time"

	"wakebot/internal/reconcile"
	"wakebot/internal/task/scheduler"
)

// Status is the payload of GET /status.
type Status struct {
	Version       string             `json:"version,omitempty"`
	Started       time.Time          `json:"started"`
	Uptime        string             `json:"uptime"`
	Ready         bool               `json:"ready"`
	LedgerSize    int                `json:"ledger_size"`
	LedgerError   string             `json:"ledger_error,omitempty"`
	LastReconcile *reconcile.Report  `json:"last_reconcile,omitempty"`
	Scheduler     scheduler.Snapshot `json:"scheduler"`
	Breaker       BreakerStatus      `json:"breaker"`
	Channels      []string           `json:"channels"`
	DryRun        bool               `json:"dry_run"`
}

type BreakerStatus struct {
	Tracked int `json:"tracked"`
	Open    int `json:"open"`
}

func (a *App) Ready() bool { return a.ready.Load() }

func (a *App) Status(ctx context.Context) any {
	st := Status{
		Version:   a.opts.Version,
		Started:   a.started,
		Uptime:    time.Since(a.started).Truncate(time.Second).String(),
		Ready:     a.Ready(),
		Scheduler: a.sched.Snapshot(),
		Channels:  a.disp.Channels(),
		DryRun:    a.cfg.Dispatch.DryRun || a.opts.DryRun,
	}
	if n, err := a.ledger.Len(ctx); err != nil {
		st.LedgerError = err.Error()
	} else {
		st.LedgerSize = n
	}
	if rep, ok := a.rec.Last(); ok {
		st.LastReconcile = &rep
	}
	st.Breaker.Tracked, st.Breaker.Open = a.disp.BreakerSnapshot()
	return st
}

// Reconcile runs a manual pass, serialized with the periodic one.
func (a *App) Reconcile(ctx context.Context) (reconcile.Report, error) {
	return a.rec.Reconcile(ctx)
}
