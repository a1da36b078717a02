// Package reconcile turns newly observed sheet rows into scheduled wake and
// reminder jobs, exactly once per row identity.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"wakebot/internal/eventbus"
	"wakebot/internal/ledger"
	"wakebot/internal/metrics"
	"wakebot/internal/source"
	"wakebot/internal/wake"
	logx "wakebot/pkg/logx"
)

// Identity modes decide what a ledger key is derived from.
const (
	// IdentityPosition keys rows by their ordinal in the sheet. Correct only
	// while the sheet is append-only.
	IdentityPosition = "position"
	// IdentityContent keys rows by a hash of their fields.
	IdentityContent = "content"
)

// Scheduler is the part of the timer engine the reconciler drives.
type Scheduler interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

// Deliverer sends a rendered job to every recipient of its payload.
type Deliverer interface {
	Deliver(ctx context.Context, kind wake.Kind, p wake.Payload) error
}

type Config struct {
	Identity string
	// JobTimeout bounds a single wake or reminder delivery; 0 means none.
	JobTimeout time.Duration
	// MissedGrace is how late a restored job may still be sent. Jobs that
	// came due longer ago than this while the process was down are dropped.
	MissedGrace time.Duration
}

// Report summarizes one pass.
type Report struct {
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Rows      int           `json:"rows"`
	Scheduled int           `json:"scheduled"`
	Skipped   int           `json:"skipped"`
	Rejected  int           `json:"rejected"`
	Error     string        `json:"error,omitempty"`
}

type Deps struct {
	Source      source.Reader
	Interpreter wake.Interpreter
	Ledger      ledger.Ledger
	Scheduler   Scheduler
	Deliverer   Deliverer
	Metrics     metrics.Sink
	Bus         eventbus.Bus
	Log         logx.Logger
	// Location is the zone wake times are resolved in.
	Location *time.Location
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type Reconciler struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	// mu serializes passes and restores.
	mu sync.Mutex
	// markMu covers adding a row's jobs through marking its entry. Jobs take
	// it to record that they ran, so that never precedes the mark.
	markMu sync.Mutex

	lastMu sync.RWMutex
	last   *Report
}

func New(cfg Config, deps Deps) (*Reconciler, error) {
	if deps.Source == nil {
		return nil, errors.New("reconcile: source required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("reconcile: ledger required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("reconcile: scheduler required")
	}
	if deps.Deliverer == nil {
		return nil, errors.New("reconcile: deliverer required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Identity)) {
	case "", IdentityPosition:
		cfg.Identity = IdentityPosition
	case IdentityContent:
		cfg.Identity = IdentityContent
	default:
		return nil, fmt.Errorf("reconcile: unknown identity mode %q", cfg.Identity)
	}
	if cfg.MissedGrace < 0 {
		cfg.MissedGrace = 0
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopSink()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Interpreter.Log.IsZero() {
		deps.Interpreter.Log = deps.Log
	}
	return &Reconciler{cfg: cfg, deps: deps, log: deps.Log}, nil
}

// Reconcile runs one pass. Concurrent calls wait for each other.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{Started: r.deps.Now()}
	err := r.pass(ctx, &rep)
	rep.Duration = time.Since(rep.Started)
	if err != nil {
		rep.Error = err.Error()
	}

	r.lastMu.Lock()
	saved := rep
	r.last = &saved
	r.lastMu.Unlock()

	r.deps.Metrics.ReconcileCompleted(rep.Duration, rep.Rows, rep.Scheduled, rep.Rejected, err)
	if n, lerr := r.deps.Ledger.Len(ctx); lerr == nil {
		r.deps.Metrics.LedgerSize(n)
	}
	if r.deps.Bus != nil {
		typ := eventbus.TypeReconcileDone
		if err != nil {
			typ = eventbus.TypeReconcileFail
		}
		r.deps.Bus.Publish(eventbus.Event{Type: typ, Data: rep})
	}

	if err != nil {
		r.log.Error("reconcile failed", logx.Err(err), logx.Duration("took", rep.Duration))
		return rep, err
	}
	r.log.Info("reconcile done",
		logx.Int("rows", rep.Rows),
		logx.Int("scheduled", rep.Scheduled),
		logx.Int("skipped", rep.Skipped),
		logx.Int("rejected", rep.Rejected),
		logx.Duration("took", rep.Duration),
	)
	return rep, nil
}

// Last returns the most recent report, if any pass has run.
func (r *Reconciler) Last() (Report, bool) {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

func (r *Reconciler) pass(ctx context.Context, rep *Report) error {
	raw, err := r.deps.Source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	rows, err := source.ParseRows(raw)
	if err != nil {
		return err
	}
	if len(rows) <= 1 {
		r.log.Info("no data rows in source")
		return nil
	}

	now := r.deps.Now().In(r.deps.Location)
	for i, fields := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := i + 1
		rep.Rows++
		key := r.key(row, fields)

		seen, err := r.deps.Ledger.Scheduled(ctx, key)
		if err != nil {
			return fmt.Errorf("ledger lookup %s: %w", key, err)
		}
		if seen {
			rep.Skipped++
			continue
		}

		req, err := r.deps.Interpreter.Interpret(row, fields)
		if err != nil {
			rep.Rejected++
			r.log.Warn("row rejected", logx.Int("row", row), logx.String("key", key), logx.Err(err))
			continue
		}
		req.Key = key

		if err := r.schedule(ctx, req, now); err != nil {
			return err
		}
		rep.Scheduled++
	}
	return nil
}

// schedule enqueues both jobs for req and then records them in the ledger.
// If the ledger write fails the jobs are withdrawn so the row is retried.
func (r *Reconciler) schedule(ctx context.Context, req wake.Request, now time.Time) error {
	wakeAt := wake.Resolve(req.WakeAt, now)
	remindAt := wake.ReminderAt(wakeAt, req.ReminderDelay)
	payload := req.Payload()
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload %s: %w", req.Key, err)
	}

	wakeName, remindName := jobName(req.Key, wake.KindWake), jobName(req.Key, wake.KindReminder)
	r.markMu.Lock()
	defer r.markMu.Unlock()
	if _, err := r.deps.Scheduler.AddOnce(wakeName, wakeAt, r.cfg.JobTimeout, r.job(req.Key, wake.KindWake, payload)); err != nil {
		return fmt.Errorf("schedule %s: %w", wakeName, err)
	}
	if _, err := r.deps.Scheduler.AddOnce(remindName, remindAt, r.cfg.JobTimeout, r.job(req.Key, wake.KindReminder, payload)); err != nil {
		r.deps.Scheduler.Remove(wakeName)
		return fmt.Errorf("schedule %s: %w", remindName, err)
	}
	entry := ledger.Entry{
		Key:     req.Key,
		Jobs:    []ledger.Job{{Name: wakeName, At: wakeAt}, {Name: remindName, At: remindAt}},
		Payload: raw,
	}
	if err := r.deps.Ledger.MarkScheduled(ctx, entry); err != nil {
		r.deps.Scheduler.Remove(wakeName)
		r.deps.Scheduler.Remove(remindName)
		return fmt.Errorf("ledger mark %s: %w", req.Key, err)
	}
	r.deps.Metrics.JobScheduled(string(wake.KindWake))
	r.deps.Metrics.JobScheduled(string(wake.KindReminder))

	r.log.Info("wake scheduled",
		logx.Int("row", req.Row),
		logx.String("key", req.Key),
		logx.String("subject", req.Subject),
		logx.Time("wake_at", wakeAt),
		logx.Time("reminder_at", remindAt),
		logx.Strings("to", payload.Recipients),
	)
	return nil
}

// Restore re-queues jobs the ledger recorded that never ran, typically
// because the process stopped before they came due. Jobs overdue by more
// than MissedGrace are dropped and recorded as done. It returns the number
// of jobs queued.
func (r *Reconciler) Restore(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.deps.Ledger.Outstanding(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger outstanding: %w", err)
	}
	now := r.deps.Now()
	r.markMu.Lock()
	defer r.markMu.Unlock()
	restored, dropped := 0, 0
	for _, e := range entries {
		var p wake.Payload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			r.log.Error("outstanding entry unreadable; dropped", logx.String("key", e.Key), logx.Err(err))
		}
		for _, j := range e.Jobs {
			kind, ok := jobKind(e.Key, j.Name)
			if !ok || len(p.Recipients) == 0 {
				dropped++
				r.done(ctx, e.Key, j.Name)
				continue
			}
			if late := now.Sub(j.At); late > r.cfg.MissedGrace {
				dropped++
				r.log.Warn("job missed while stopped; dropped",
					logx.String("job", j.Name), logx.Time("at", j.At), logx.Duration("late", late))
				r.done(ctx, e.Key, j.Name)
				continue
			}
			if _, err := r.deps.Scheduler.AddOnce(j.Name, j.At, r.cfg.JobTimeout, r.job(e.Key, kind, p)); err != nil {
				return restored, fmt.Errorf("restore %s: %w", j.Name, err)
			}
			r.deps.Metrics.JobScheduled(string(kind))
			restored++
		}
	}
	if restored > 0 || dropped > 0 {
		r.log.Info("outstanding jobs restored", logx.Int("restored", restored), logx.Int("dropped", dropped))
	}
	return restored, nil
}

func (r *Reconciler) job(key string, kind wake.Kind, p wake.Payload) func(ctx context.Context) error {
	name := jobName(key, kind)
	return func(ctx context.Context) error {
		err := r.deps.Deliverer.Deliver(ctx, kind, p)
		// Delivery is attempted once; failed sends are not retried later.
		r.markMu.Lock()
		r.done(context.WithoutCancel(ctx), key, name)
		r.markMu.Unlock()
		return err
	}
}

// done records that job of key ran or was dropped. Call with r.markMu held.
func (r *Reconciler) done(ctx context.Context, key, job string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.deps.Ledger.JobDone(ctx, key, job); err != nil {
		r.log.Warn("ledger: job completion not recorded", logx.String("job", job), logx.Err(err))
	}
}

func jobName(key string, kind wake.Kind) string { return key + "/" + string(kind) }

func jobKind(key, name string) (wake.Kind, bool) {
	rest, ok := strings.CutPrefix(name, key+"/")
	if !ok {
		return "", false
	}
	switch k := wake.Kind(rest); k {
	case wake.KindWake, wake.KindReminder:
		return k, true
	}
	return "", false
}

func (r *Reconciler) key(row int, fields []string) string {
	if r.cfg.Identity == IdentityContent {
		return ContentKey(fields)
	}
	return "row:" + strconv.Itoa(row)
}

// ContentKey hashes the trimmed fields of a row. Field boundaries are kept
// so ("a,b", "c") and ("a", "b,c") differ.
func ContentKey(fields []string) string {
	h := sha256.New()
	for _, f := range fields {
		f = strings.TrimSpace(f)
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return "content:" + hex.EncodeToString(h.Sum(nil))[:32]
}
