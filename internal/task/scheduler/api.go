package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"wakebot/internal/eventbus"
	"wakebot/internal/task/engine"
	logx "wakebot/pkg/logx"
)

// AddSchedule parses schedule and registers either a cron or interval job.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 15m"
//   - Interval duration: "15m", "2h30m"
//   - Interval HH:MM: "00:15" (15 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) AddSchedule(name, schedule string, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.addRecurring(scheduleDef{name: name, spec: ps.Cron, job: job})
	case SpecInterval:
		return s.AddInterval(name, ps.Every, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

// AddInterval runs job every `every`. Triggers follow a fixed cadence from
// the previous trigger time, not from when the previous run finished. Runs
// never overlap: a trigger that arrives mid-run waits for it to end.
func (s *Service) AddInterval(name string, every time.Duration, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.addRecurring(scheduleDef{name: name, spec: "@every " + every.String(), every: every, job: job})
}

func (s *Service) addRecurring(d scheduleDef) (string, error) {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return "", errors.New("name required")
	}
	if d.job == nil {
		return "", errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so re-registration never duplicates triggers.
	s.removeScheduleLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Not started yet: registered when Start() runs.
		return d.name, nil
	}
	err := s.addCronLocked(&s.defs[len(s.defs)-1])
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return d.name, err
	}
	s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec))
	return d.name, nil
}

// AddOnce schedules job to run exactly once, no earlier than at. A job with
// the same name is replaced. Jobs added before Start are held and armed on
// Start. Safe to call concurrently with firing, including from a running job.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()

	d := &onceDef{id: uuid.NewString(), at: at.In(loc), timeout: timeout, job: job}

	s.tmu.Lock()
	if prev, ok := s.once[name]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	// A fresh version makes any stale callback of a replaced timer a no-op.
	s.verSeq++
	d.ver = s.verSeq
	s.once[name] = d
	if s.started {
		s.armLocked(name, d)
	}
	s.tmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobScheduled, Data: JobInfo{ID: d.id, Name: name, At: d.at, Timeout: timeout}})
	}
	s.log.Debug("job scheduled", logx.String("name", name), logx.String("id", d.id), logx.Time("at", d.at))
	return d.id, nil
}

// Remove unschedules everything registered under name. It returns true if
// something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	if d, ok := s.once[name]; ok {
		if d.timer != nil {
			d.timer.Stop()
		}
		delete(s.once, name)
		removed = true
	}
	s.tmu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Pending reports how many one-time jobs have not fired yet.
func (s *Service) Pending() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.once)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.c != nil
	loc := s.loc
	c := s.c
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	pending := make([]JobInfo, 0, len(s.once))
	for name, d := range s.once {
		pending = append(pending, JobInfo{ID: d.id, Name: name, At: d.at, Timeout: d.timeout})
	}
	s.tmu.Unlock()
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].At.Equal(pending[j].At) {
			return pending[i].Name < pending[j].Name
		}
		return pending[i].At.Before(pending[j].At)
	})

	snap := Snapshot{Running: running, Timezone: loc.String(), Pending: pending, Schedules: items}
	if s.engine != nil {
		snap.Executor = s.engine.Snapshot()
	}
	return snap
}

// removeScheduleLocked removes all recurring defs matching name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// addCronLocked registers d with the running cron. Call with s.mu held.
func (s *Service) addCronLocked(d *scheduleDef) error {
	name, fn, ctx := d.name, d.job, s.ctx
	job := cron.FuncJob(func() {
		start := time.Now()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("schedule run failed", logx.String("schedule", name), logx.Err(err), logx.Duration("dur", time.Since(start)))
			return
		}
		s.log.Debug("schedule run finished", logx.String("schedule", name), logx.Duration("dur", time.Since(start)))
	})

	if d.every > 0 {
		d.entryID = s.c.Schedule(cron.Every(d.every), job)
		return nil
	}
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// armLocked starts the timer for d. Call with s.tmu held.
func (s *Service) armLocked(name string, d *onceDef) {
	if d.timer != nil {
		d.timer.Stop()
	}
	delay := time.Until(d.at)
	if delay < 0 {
		delay = 0
	}
	ver := d.ver
	d.timer = time.AfterFunc(delay, func() { s.fire(name, ver) })
}

func (s *Service) fire(name string, ver uint64) {
	// The definition is removed under lock before hand-off, so a job can
	// only ever be handed to the executor once.
	s.tmu.Lock()
	d, ok := s.once[name]
	if !ok || d.ver != ver || !s.started {
		s.tmu.Unlock()
		return
	}
	delete(s.once, name)
	s.tmu.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFired, Data: JobInfo{ID: d.id, Name: name, At: d.at, Timeout: d.timeout}})
	}
	if s.engine == nil {
		s.log.Error("job fired without executor", logx.String("name", name), logx.String("id", d.id))
		return
	}

	// Blocking hand-off: a full queue delays the job instead of dropping it.
	err := s.engine.Submit(ctx, engine.Task{ID: d.id, Name: name, Timeout: d.timeout, Run: d.job})
	if err != nil {
		s.log.Warn("fired job abandoned", logx.String("name", name), logx.String("id", d.id), logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobAbandoned, Data: 1})
		}
	}
}
