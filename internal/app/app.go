// Package app wires configuration, storage, the timer engine, dispatch and
// the reconciliation loop into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wakebot/internal/api"
	"wakebot/internal/config"
	"wakebot/internal/dispatch"
	"wakebot/internal/eventbus"
	"wakebot/internal/ledger"
	"wakebot/internal/metrics"
	"wakebot/internal/reconcile"
	rtsup "wakebot/internal/runtime/supervisor"
	"wakebot/internal/source"
	"wakebot/internal/task/engine"
	"wakebot/internal/task/scheduler"
	"wakebot/internal/wake"
	logx "wakebot/pkg/logx"
)

const reconcileJob = "reconcile"

type Options struct {
	ConfigPath string
	// DryRun forces dispatch.dry_run regardless of the file.
	DryRun  bool
	Version string
	// Senders replaces channel senders by scheme, e.g. for embedding.
	Senders map[string]dispatch.Sender
}

type App struct {
	opts Options
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry
	sink metrics.Sink

	ledger ledger.Ledger
	disp   *dispatch.Dispatcher
	engine *engine.Service
	sched  *scheduler.Service
	rec    *reconcile.Reconciler
	api    *api.Server

	sup     *rtsup.Supervisor
	started time.Time
	ready   atomic.Bool

	stopOnce sync.Once
}

// New loads the config and builds every component. Nothing is started.
func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(mapLogging(cfg))

	a, err := build(cfg, opts, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	return a, nil
}

// build constructs the components for cfg. Split from New so tests can
// skip the file.
func build(cfg *config.Config, opts Options, root logx.Logger) (*App, error) {
	log := root.With(logx.String("comp", "app"))
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	bus := eventbus.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.NewPrometheusSink(reg, comp("metrics"))

	srcCfg, err := mapSource(cfg)
	if err != nil {
		return nil, err
	}
	src, err := source.New(srcCfg)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	dir, err := wake.NewDirectory(cfg.Recipients)
	if err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}

	dcfg, err := mapDispatch(cfg, opts.DryRun)
	if err != nil {
		return nil, err
	}
	disp, err := dispatch.New(dcfg, comp("dispatch"), sink, opts.Senders)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	for _, name := range dir.Names() {
		addr, _ := dir.Lookup(name)
		if err := disp.CheckAddress(addr); err != nil {
			log.Warn("recipient cannot be delivered to", logx.String("recipient", name), logx.Err(err))
		}
	}

	ecfg, err := mapTaskEngine(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(ecfg, comp("taskengine"), bus)
	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, eng, comp("scheduler"), bus)

	lcfg, err := mapLedger(cfg)
	if err != nil {
		return nil, err
	}
	led, err := ledger.Open(lcfg, comp("ledger"))
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	rcfg, err := mapReconcile(cfg)
	if err != nil {
		_ = led.Close()
		return nil, err
	}
	rec, err := reconcile.New(rcfg, reconcile.Deps{
		Source:      src,
		Interpreter: mapInterpreter(cfg, dir, comp("interpreter")),
		Ledger:      led,
		Scheduler:   sched,
		Deliverer:   disp,
		Metrics:     sink,
		Bus:         bus,
		Log:         comp("reconcile"),
		Location:    sched.Location(),
	})
	if err != nil {
		_ = led.Close()
		return nil, err
	}

	a := &App{
		opts:   opts,
		cfg:    cfg,
		log:    log,
		bus:    bus,
		reg:    reg,
		sink:   sink,
		ledger: led,
		disp:   disp,
		engine: eng,
		sched:  sched,
		rec:    rec,
	}
	if cfg.HTTP.Enabled {
		acfg, err := mapAPI(cfg)
		if err != nil {
			_ = led.Close()
			return nil, err
		}
		a.api = api.New(acfg, a, reg, comp("api"))
	}
	return a, nil
}

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the startup pass, then starts the timer engine, the interval
// trigger and the background loops. A failed startup pass is logged and
// retried on the next trigger.
func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	interval := reconcileInterval(a.cfg)
	if _, err := a.sched.AddSchedule(reconcileJob, interval, func(c context.Context) error {
		_, err := a.rec.Reconcile(c)
		return err
	}); err != nil {
		return fmt.Errorf("reconcile.interval: %w", err)
	}

	a.sup.Go0("eventbus.metrics", func(c context.Context) { a.pumpEvents(c) })

	// Jobs restored from the ledger and added by the startup pass are held
	// until the scheduler starts.
	if _, err := a.rec.Restore(runCtx); err != nil {
		a.log.Error("restoring outstanding jobs failed", logx.Err(err))
	}
	if _, err := a.rec.Reconcile(runCtx); err != nil {
		a.log.Warn("startup reconcile failed; will retry on next trigger", logx.Err(err))
	}
	a.ready.Store(true)

	// The engine outlives the app context so Stop can drain in-flight sends.
	a.engine.Start(context.WithoutCancel(runCtx))
	a.sched.Start(runCtx)
	a.sink.JobsPending(a.sched.Pending())

	if a.api != nil {
		if err := a.api.Start(a.sup); err != nil {
			return err
		}
	}
	if a.cfgm != nil {
		a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })
		a.sup.Go0("config.reload", func(c context.Context) { a.applyConfigUpdates(c) })
	}
	a.startSystemd()

	a.log.Info("app started",
		logx.String("version", a.opts.Version),
		logx.String("interval", interval),
		logx.String("tz", a.sched.Location().String()),
		logx.Int("recipients", len(a.cfg.Recipients)),
		logx.Strings("channels", a.disp.Channels()),
		logx.Int("pending", a.sched.Pending()),
	)
	return nil
}

// pumpEvents feeds job lifecycle events into metrics.
func (a *App) pumpEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case eventbus.TypeJobFired:
				a.sink.JobFired()
			case eventbus.TypeJobAbandoned:
				if n, ok := e.Data.(int); ok {
					a.sink.JobsAbandoned(n)
				}
			case eventbus.TypeTaskFinished, eventbus.TypeTaskFailed:
				if te, ok := e.Data.(engine.TaskEvent); ok {
					a.sink.TaskCompleted(te.Duration, e.Type == eventbus.TypeTaskFailed)
				}
			}
			a.sink.JobsPending(a.sched.Pending())
			a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// applyConfigUpdates hot-applies logging changes. Anything else is logged
// as needing a restart.
func (a *App) applyConfigUpdates(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			changed, attrs := config.Changes(last, next)
			last = next
			if len(changed) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			if a.logs != nil {
				a.logs.Apply(mapLogging(next))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
			if config.HotApplicable(changed) {
				a.log.Info("config applied", fields...)
			} else {
				a.log.Warn("config changed; restart required for non-logging sections", fields...)
			}
		}
	}
}

// Stop shuts down in dependency order: trigger, timer engine (pending jobs
// abandoned), executor drain, API, ledger.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.stopOnce.Do(func() {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		notifyStopping()
		a.sup.Cancel()

		drain := a.engine.Snapshot().DrainTimeout
		a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
		a.step(ctx, "taskengine", drain+5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
		a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)
		a.step(ctx, "ledger", 2*time.Second, func(context.Context) error { return a.ledger.Close() })

		a.log.Info("stopped")
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
	return nil
}

func (a *App) closeResources() error {
	err := a.ledger.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// step runs one shutdown step bounded by max and the caller's deadline, so
// one component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
