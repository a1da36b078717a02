package config

// Config is the on-disk configuration. YAML and JSON are both accepted;
// unknown keys are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "15m").
type Config struct {
	Source SourceConfig `json:"source"`

	// Recipients maps the names used in the sheet's receivers column to
	// delivery addresses ("whatsapp:+15550001111", "telegram:12345", "log:ops").
	Recipients map[string]string `json:"recipients"`

	Reconcile  ReconcileConfig  `json:"reconcile"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Ledger     LedgerConfig     `json:"ledger"`
	Logging    LoggingConfig    `json:"logging"`
	HTTP       HTTPConfig       `json:"http"`
}

// SourceConfig selects where sheet rows come from.
//
// Example:
//
//	"source": { "url": "https://docs.google.com/spreadsheets/d/e/.../pub?output=csv" }
type SourceConfig struct {
	// Driver is "http" or "file"; inferred from url/path when empty.
	Driver   string `json:"driver,omitempty"`
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

// ReconcileConfig controls the ingestion pass.
//
// Defaults:
//   - interval: "15m" (a duration, "HH:MM", or a cron expression)
//   - default_delay: 5 (minutes)
//   - identity: "position"
//   - missed_grace: "15m" (how late a job restored after a restart may
//     still be sent; older ones are dropped)
type ReconcileConfig struct {
	Interval string `json:"interval,omitempty"`
	// DefaultDelay is a pointer so an explicit 0 is kept.
	DefaultDelay *int   `json:"default_delay,omitempty"`
	Identity     string `json:"identity,omitempty"`
	JobTimeout   string `json:"job_timeout,omitempty"`
	MissedGrace  string `json:"missed_grace,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA zone wake times are resolved in. Empty uses the
	// process local zone.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs fired jobs.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - drain_timeout: "30s"
//   - history_size: 200
//   - retry_max: 0
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	DrainTimeout   string `json:"drain_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

type DispatchConfig struct {
	DryRun   bool `json:"dry_run,omitempty"`
	Emphasis bool `json:"emphasis,omitempty"`

	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	// RetryMax is per recipient. A pointer so an explicit 0 is kept; default 2.
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	Breaker  BreakerConfig  `json:"breaker"`
	Twilio   TwilioConfig   `json:"twilio"`
	Telegram TelegramConfig `json:"telegram"`
}

// BreakerConfig configures the per-destination circuit breaker.
// trip_failures < 0 disables it.
type BreakerConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"`
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

// TwilioConfig holds WhatsApp/SMS credentials. The auth token is normally
// supplied through TWILIO_AUTH_TOKEN rather than the file.
type TwilioConfig struct {
	AccountSID string `json:"account_sid,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"` // do not log
	From       string `json:"from,omitempty"`
	SMSFrom    string `json:"sms_from,omitempty"`
}

type TelegramConfig struct {
	Token     string `json:"token,omitempty"` // do not log
	ParseMode string `json:"parse_mode,omitempty"`
}

// LedgerConfig controls where scheduled row identities are remembered.
//
// Example:
//
//	"ledger": { "driver": "sqlite", "path": "./data/wakebot.db" }
type LedgerConfig struct {
	Driver      string            `json:"driver,omitempty"`
	Path        string            `json:"path,omitempty"`
	BusyTimeout string            `json:"busy_timeout,omitempty"` // sqlite
	Redis       LedgerRedisConfig `json:"redis"`
}

type LedgerRedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the operations API.
//
// Security note: prefer binding to localhost. A non-loopback address
// requires a token unless allow_insecure is set.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof mounts net/http/pprof under /debug behind the same token.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
