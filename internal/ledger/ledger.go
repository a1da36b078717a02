// Package ledger records which rows already produced jobs, so repeated
// reconciliation passes never schedule a row twice.
//
// Keys only grow; there is no eviction and no way to unmark a key. Each key
// also carries the jobs it produced until they have run, so durable
// backends can hand unfired jobs back after a restart.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "wakebot/pkg/logx"
)

var (
	ErrClosed   = errors.New("ledger closed")
	ErrEmptyKey = errors.New("ledger key is empty")
)

// Job is one fire instant recorded with an entry.
type Job struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// Entry is what MarkScheduled records. Payload is opaque to the ledger.
type Entry struct {
	Key     string          `json:"key"`
	Jobs    []Job           `json:"jobs,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// done returns e without job name and whether it was present.
func (e Entry) done(name string) (Entry, bool) {
	jobs := make([]Job, 0, len(e.Jobs))
	found := false
	for _, j := range e.Jobs {
		if j.Name == name {
			found = true
			continue
		}
		jobs = append(jobs, j)
	}
	e.Jobs = jobs
	return e, found
}

// Ledger answers "already scheduled?" and records "now scheduled".
//
// MarkScheduled of a key that is already present is a no-op. JobDone for an
// unknown key or job is a no-op; once every job of an entry is done the
// entry is no longer Outstanding, but its key stays Scheduled.
type Ledger interface {
	Scheduled(ctx context.Context, key string) (bool, error)
	MarkScheduled(ctx context.Context, e Entry) error
	JobDone(ctx context.Context, key, job string) error
	Outstanding(ctx context.Context) ([]Entry, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// Config selects and configures a backend.
//
// Driver values:
//   - "memory" (default): process lifetime only
//   - "file": append-only JSON lines journal at Path
//   - "sqlite": SQLite database at Path
//   - "bolt": bbolt database at Path
//   - "redis": a set in Redis, shareable between instances
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	Redis RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Key is the Redis set holding scheduled keys.
	Key string
}

// Open initializes the configured ledger.
func Open(cfg Config, log logx.Logger) (Ledger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg)
	case "redis":
		return openRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown ledger driver: %s", driver)
	}
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
