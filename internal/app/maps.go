package app

import (
	"strings"
	"time"

	"wakebot/internal/api"
	"wakebot/internal/config"
	"wakebot/internal/dispatch"
	"wakebot/internal/ledger"
	"wakebot/internal/reconcile"
	"wakebot/internal/source"
	"wakebot/internal/task/engine"
	"wakebot/internal/wake"
	logx "wakebot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSource(cfg *config.Config) (source.Config, error) {
	timeout, err := config.Duration("source.timeout", cfg.Source.Timeout)
	if err != nil {
		return source.Config{}, err
	}
	return source.Config{
		Driver:   cfg.Source.Driver,
		URL:      cfg.Source.URL,
		Path:     cfg.Source.Path,
		Timeout:  timeout,
		MaxBytes: cfg.Source.MaxBytes,
	}, nil
}

func mapLedger(cfg *config.Config) (ledger.Config, error) {
	busy, err := config.DurationOr("ledger.busy_timeout", cfg.Ledger.BusyTimeout, time.Second)
	if err != nil {
		return ledger.Config{}, err
	}
	r := cfg.Ledger.Redis
	return ledger.Config{
		Driver:      cfg.Ledger.Driver,
		Path:        strings.TrimSpace(cfg.Ledger.Path),
		BusyTimeout: busy,
		Redis:       ledger.RedisConfig{Addr: r.Addr, Password: r.Password, DB: r.DB, Key: r.Key},
	}, nil
}

func mapTaskEngine(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	defTimeout, err := config.Duration("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	drain, err := config.DurationOr("task_engine.drain_timeout", te.DrainTimeout, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		DrainTimeout:   drain,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
	}, nil
}

func mapDispatch(cfg *config.Config, dryRun bool) (dispatch.Config, error) {
	d := cfg.Dispatch
	var out dispatch.Config
	var err error
	durs := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"dispatch.retry_base", d.RetryBase, 2 * time.Second, &out.Backoff.Base},
		{"dispatch.retry_max_delay", d.RetryMaxDelay, 30 * time.Second, &out.Backoff.Max},
		{"dispatch.breaker.base_delay", d.Breaker.BaseDelay, 0, &out.Breaker.BaseDelay},
		{"dispatch.breaker.max_delay", d.Breaker.MaxDelay, 0, &out.Breaker.MaxDelay},
		{"dispatch.breaker.reset_after", d.Breaker.ResetAfter, 0, &out.Breaker.ResetAfter},
	}
	for _, f := range durs {
		if *f.dst, err = config.DurationOr(f.path, f.raw, f.def); err != nil {
			return dispatch.Config{}, err
		}
	}

	retryMax := 2
	if d.RetryMax != nil {
		retryMax = *d.RetryMax
	}
	out.DryRun = d.DryRun || dryRun
	out.Emphasis = d.Emphasis
	out.RatePerSec = d.RatePerSec
	out.Burst = d.Burst
	out.RetryMax = retryMax
	out.Backoff.Jitter = 0.2
	out.Breaker.TripFailures = d.Breaker.TripFailures
	out.Twilio = dispatch.TwilioConfig{
		AccountSID: d.Twilio.AccountSID,
		AuthToken:  d.Twilio.AuthToken,
		From:       d.Twilio.From,
		SMSFrom:    d.Twilio.SMSFrom,
	}
	out.Telegram = dispatch.TelegramConfig{Token: d.Telegram.Token, ParseMode: d.Telegram.ParseMode}
	return out, nil
}

func mapInterpreter(cfg *config.Config, dir *wake.Directory, log logx.Logger) wake.Interpreter {
	delay := wake.DefaultReminderDelay
	if cfg.Reconcile.DefaultDelay != nil {
		delay = *cfg.Reconcile.DefaultDelay
	}
	return wake.Interpreter{Directory: dir, DefaultDelay: delay, Log: log}
}

func mapReconcile(cfg *config.Config) (reconcile.Config, error) {
	rc := cfg.Reconcile
	out := reconcile.Config{Identity: rc.Identity}
	var err error
	if out.JobTimeout, err = config.Duration("reconcile.job_timeout", rc.JobTimeout); err != nil {
		return out, err
	}
	if out.MissedGrace, err = config.DurationOr("reconcile.missed_grace", rc.MissedGrace, 15*time.Minute); err != nil {
		return out, err
	}
	return out, nil
}

func reconcileInterval(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Reconcile.Interval); s != "" {
		return s
	}
	return config.DefaultInterval
}

func mapAPI(cfg *config.Config) (api.Config, error) {
	h := cfg.HTTP
	out := api.Config{
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.DurationOr("http.read_timeout", h.ReadTimeout, 15*time.Second); err != nil {
		return api.Config{}, err
	}
	// Manual reconcile can take as long as a sheet fetch.
	if out.WriteTimeout, err = config.DurationOr("http.write_timeout", h.WriteTimeout, time.Minute); err != nil {
		return api.Config{}, err
	}
	if out.IdleTimeout, err = config.DurationOr("http.idle_timeout", h.IdleTimeout, 2*time.Minute); err != nil {
		return api.Config{}, err
	}
	return out, nil
}
