package config

import (
	"reflect"
	"strings"

	logx "wakebot/pkg/logx"
)

// Changes returns the top-level sections that differ between two configs,
// and log fields describing them. Secrets are never included.
func Changes(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.driver", newCfg.Source.Driver),
			logx.Bool("source.url_set", strings.TrimSpace(newCfg.Source.URL) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Recipients, newCfg.Recipients) {
		changed = append(changed, "recipients")
		attrs = append(attrs, logx.Int("recipients.count", len(newCfg.Recipients)))
	}
	if !reflect.DeepEqual(oldCfg.Reconcile, newCfg.Reconcile) {
		changed = append(changed, "reconcile")
		attrs = append(attrs, logx.String("reconcile.interval", newCfg.Reconcile.Interval))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Bool("dispatch.dry_run", newCfg.Dispatch.DryRun),
			logx.Bool("dispatch.twilio_set", strings.TrimSpace(newCfg.Dispatch.Twilio.AccountSID) != ""),
			logx.Bool("dispatch.telegram_set", strings.TrimSpace(newCfg.Dispatch.Telegram.Token) != ""),
		)
	}
	if oldCfg.Ledger != newCfg.Ledger {
		changed = append(changed, "ledger")
		attrs = append(attrs, logx.String("ledger.driver", newCfg.Ledger.Driver))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.String("http.addr", newCfg.HTTP.Addr))
	}
	return changed, attrs
}

// HotApplicable reports whether every changed section can be applied without
// a restart. Only logging is reloaded live.
func HotApplicable(changed []string) bool {
	for _, s := range changed {
		if s != "logging" {
			return false
		}
	}
	return true
}
