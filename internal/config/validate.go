package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"wakebot/internal/dispatch"
	"wakebot/internal/task/scheduler"
)

const (
	DefaultInterval = "15m"
	DefaultHTTPAddr = "127.0.0.1:8080"
)

// ValidationErrors collects every problem found in a config so they can be
// fixed in one go.
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() []error { return v }

// Validate checks cfg for problems that would only surface at runtime.
func Validate(cfg *Config) error {
	if cfg == nil {
		return ValidationErrors{fmt.Errorf("config is nil")}
	}
	var errs ValidationErrors
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := Duration(path, raw)
		add(err)
	}

	src := cfg.Source
	switch strings.ToLower(strings.TrimSpace(src.Driver)) {
	case "":
		if strings.TrimSpace(src.URL) == "" && strings.TrimSpace(src.Path) == "" {
			add(fmt.Errorf("source: url or path required (or set %s)", EnvSheetURL))
		}
	case "http", "https":
		if strings.TrimSpace(src.URL) == "" {
			add(fmt.Errorf("source.url: required for driver %q", src.Driver))
		}
	case "file":
		if strings.TrimSpace(src.Path) == "" {
			add(fmt.Errorf("source.path: required for driver file"))
		}
	default:
		add(fmt.Errorf("source.driver: unknown %q", src.Driver))
	}
	dur("source.timeout", src.Timeout)
	if src.MaxBytes < 0 {
		add(fmt.Errorf("source.max_bytes: must be >= 0"))
	}

	if len(cfg.Recipients) == 0 {
		add(fmt.Errorf("recipients: at least one recipient required"))
	}
	for name, addr := range cfg.Recipients {
		if strings.TrimSpace(name) == "" {
			add(fmt.Errorf("recipients: empty name"))
			continue
		}
		if _, err := dispatch.Channel(addr); err != nil {
			add(fmt.Errorf("recipients.%s: %w", name, err))
		}
	}

	rc := cfg.Reconcile
	if strings.TrimSpace(rc.Interval) != "" {
		if err := scheduler.CheckSchedule(rc.Interval); err != nil {
			add(fmt.Errorf("reconcile.interval: %w", err))
		}
	}
	if rc.DefaultDelay != nil && *rc.DefaultDelay < 0 {
		add(fmt.Errorf("reconcile.default_delay: must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(rc.Identity)) {
	case "", "position", "content":
	default:
		add(fmt.Errorf("reconcile.identity: unknown %q (want position or content)", rc.Identity))
	}
	dur("reconcile.job_timeout", rc.JobTimeout)
	dur("reconcile.missed_grace", rc.MissedGrace)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	te := cfg.TaskEngine
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
		add(fmt.Errorf("task_engine: counts must be >= 0"))
	}
	dur("task_engine.default_timeout", te.DefaultTimeout)
	dur("task_engine.drain_timeout", te.DrainTimeout)

	d := cfg.Dispatch
	if d.RatePerSec < 0 || d.Burst < 0 {
		add(fmt.Errorf("dispatch: rate_per_sec and burst must be >= 0"))
	}
	if d.RetryMax != nil && *d.RetryMax < 0 {
		add(fmt.Errorf("dispatch.retry_max: must be >= 0"))
	}
	dur("dispatch.retry_base", d.RetryBase)
	dur("dispatch.retry_max_delay", d.RetryMaxDelay)
	dur("dispatch.breaker.base_delay", d.Breaker.BaseDelay)
	dur("dispatch.breaker.max_delay", d.Breaker.MaxDelay)
	dur("dispatch.breaker.reset_after", d.Breaker.ResetAfter)
	if (strings.TrimSpace(d.Twilio.AccountSID) == "") != (strings.TrimSpace(d.Twilio.AuthToken) == "") {
		add(fmt.Errorf("dispatch.twilio: account_sid and auth_token must be set together"))
	}

	l := cfg.Ledger
	switch strings.ToLower(strings.TrimSpace(l.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3", "bolt", "bbolt":
		if strings.TrimSpace(l.Path) == "" {
			add(fmt.Errorf("ledger.path: required for driver %q", l.Driver))
		}
	case "redis":
		if strings.TrimSpace(l.Redis.Addr) == "" {
			add(fmt.Errorf("ledger.redis.addr: required for driver redis"))
		}
	default:
		add(fmt.Errorf("ledger.driver: unknown %q", l.Driver))
	}
	dur("ledger.busy_timeout", l.BusyTimeout)

	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(fmt.Errorf("logging.file.path: required when file logging is enabled"))
	}

	h := cfg.HTTP
	if h.Enabled {
		addr := strings.TrimSpace(h.Addr)
		if addr == "" {
			addr = DefaultHTTPAddr
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			add(fmt.Errorf("http.addr: %w", err))
		} else if !isLoopback(host) && strings.TrimSpace(h.Token) == "" && !h.AllowInsecure {
			add(fmt.Errorf("http: non-loopback addr %q requires token or allow_insecure", addr))
		}
	}
	dur("http.read_timeout", h.ReadTimeout)
	dur("http.write_timeout", h.WriteTimeout)
	dur("http.idle_timeout", h.IdleTimeout)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
