package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"wakebot/internal/eventbus"
	"wakebot/internal/task/engine"
	logx "wakebot/pkg/logx"
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		engine: eng,
		parser: cronParser,
		once:   map[string]*onceDef{},
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

// Location is the zone wake times are resolved in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start starts cron triggering and arms one-time jobs added so far.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)),
	)
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()

	s.tmu.Lock()
	s.started = true
	for name, d := range s.once {
		s.armLocked(name, d)
	}
	pending := len(s.once)
	s.tmu.Unlock()

	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)), logx.Int("pending", pending))
}

// Stop stops cron triggering and abandons pending one-time jobs. A recurring
// run in progress is waited for until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	s.tmu.Lock()
	s.started = false
	abandoned := len(s.once)
	for name, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
		}
		delete(s.once, name)
	}
	s.tmu.Unlock()

	// Blocked hand-offs of fired jobs give up once the context goes.
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop: recurring run still active", logx.Err(ctx.Err()))
	}

	if abandoned > 0 {
		s.log.Warn("pending jobs abandoned", logx.Int("count", abandoned))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobAbandoned, Data: abandoned})
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Run starts the executor and the scheduler, blocks until ctx is cancelled,
// then tears both down. Pending jobs are abandoned; in-flight actions get
// the executor's drain timeout.
func (s *Service) Run(ctx context.Context) {
	if s.engine != nil {
		s.engine.Start(context.WithoutCancel(ctx))
	}
	s.Start(context.WithoutCancel(ctx))
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.Stop(stopCtx)
	if s.engine != nil {
		s.engine.Stop(stopCtx)
	}
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
