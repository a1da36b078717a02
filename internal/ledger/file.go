package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "wakebot/pkg/logx"
)

// fileLedger is a dependency-free durable backend: state is replayed from an
// append-only JSON lines journal. A mark appends the entry, a finished job
// appends a done record.
type fileLedger struct {
	log logx.Logger

	mu      sync.Mutex
	journal *os.File
	keys    map[string]struct{}
	open    map[string]Entry
}

type journalRecord struct {
	Key     string          `json:"key"`
	At      int64           `json:"at"` // unix milli
	Jobs    []Job           `json:"jobs,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Done names a job of Key that has run.
	Done string `json:"done,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	l := &fileLedger{log: log, keys: map[string]struct{}{}, open: map[string]Entry{}}
	if err := l.replay(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	l.journal = f
	log.Debug("ledger journal loaded", logx.String("path", path), logx.Int("keys", len(l.keys)), logx.Int("outstanding", len(l.open)))
	return l, nil
}

func (l *fileLedger) replay(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal(b, &rec); err != nil || rec.Key == "" {
			// A torn last write after a crash is expected; skip it.
			l.log.Warn("ledger journal: bad line skipped", logx.Int("line", line))
			continue
		}
		l.apply(rec)
	}
	return sc.Err()
}

// apply folds one record into memory. Call with l.mu held or before use.
func (l *fileLedger) apply(rec journalRecord) {
	if rec.Done != "" {
		if e, ok := l.open[rec.Key]; ok {
			if e, _ = e.done(rec.Done); len(e.Jobs) == 0 {
				delete(l.open, rec.Key)
			} else {
				l.open[rec.Key] = e
			}
		}
		return
	}
	if _, ok := l.keys[rec.Key]; ok {
		return
	}
	l.keys[rec.Key] = struct{}{}
	if len(rec.Jobs) > 0 {
		l.open[rec.Key] = Entry{Key: rec.Key, Jobs: rec.Jobs, Payload: rec.Payload}
	}
}

// write appends rec and syncs. Call with l.mu held.
func (l *fileLedger) write(rec journalRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := l.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	return l.journal.Sync()
}

func (l *fileLedger) Scheduled(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.journal == nil {
		return false, ErrClosed
	}
	_, ok := l.keys[key]
	return ok, nil
}

func (l *fileLedger) MarkScheduled(_ context.Context, e Entry) error {
	if err := checkKey(e.Key); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.journal == nil {
		return ErrClosed
	}
	if _, ok := l.keys[e.Key]; ok {
		return nil
	}
	rec := journalRecord{Key: e.Key, At: time.Now().UnixMilli(), Jobs: e.Jobs, Payload: e.Payload}
	if err := l.write(rec); err != nil {
		return err
	}
	l.apply(rec)
	return nil
}

func (l *fileLedger) JobDone(_ context.Context, key, job string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.journal == nil {
		return ErrClosed
	}
	e, ok := l.open[key]
	if !ok {
		return nil
	}
	if _, found := e.done(job); !found {
		return nil
	}
	rec := journalRecord{Key: key, At: time.Now().UnixMilli(), Done: job}
	if err := l.write(rec); err != nil {
		return err
	}
	l.apply(rec)
	return nil
}

func (l *fileLedger) Outstanding(context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.journal == nil {
		return nil, ErrClosed
	}
	out := make([]Entry, 0, len(l.open))
	for _, e := range l.open {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (l *fileLedger) Len(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys), nil
}

func (l *fileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.journal == nil {
		return nil
	}
	err := l.journal.Close()
	l.journal = nil
	return err
}
