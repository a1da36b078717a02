package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"wakebot/internal/eventbus"
	"wakebot/internal/task/engine"
	logx "wakebot/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Kolkata"; empty means process local
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or "@every <d>"
	every   time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

type onceDef struct {
	id      string
	at      time.Time
	timeout time.Duration
	job     func(ctx context.Context) error
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// ctx lives from Start to Stop; it bounds recurring runs and the blocking
	// hand-off of fired jobs.
	ctx    context.Context
	cancel context.CancelFunc

	// one-time jobs; timers are armed only while started.
	tmu     sync.Mutex
	started bool
	once    map[string]*onceDef
	verSeq  uint64
}

// JobInfo describes a pending one-time job.
type JobInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	At      time.Time     `json:"at"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ScheduleInfo describes a recurring schedule.
type ScheduleInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

type Snapshot struct {
	Running   bool            `json:"running"`
	Timezone  string          `json:"timezone"`
	Pending   []JobInfo       `json:"pending"`
	Schedules []ScheduleInfo  `json:"schedules"`
	Executor  engine.Snapshot `json:"executor"`
}
