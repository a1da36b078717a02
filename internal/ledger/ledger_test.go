package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "wakebot/pkg/logx"
)

func drivers(t *testing.T) []Config {
	t.Helper()
	dir := t.TempDir()
	cfgs := []Config{
		{Driver: "memory"},
		{Driver: "file", Path: filepath.Join(dir, "ledger.jsonl")},
		{Driver: "sqlite", Path: filepath.Join(dir, "ledger.db")},
		{Driver: "bolt", Path: filepath.Join(dir, "ledger.bolt")},
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		key := fmt.Sprintf("wakebot:test:%d", time.Now().UnixNano())
		cfgs = append(cfgs, Config{Driver: "redis", Redis: RedisConfig{Addr: addr, Key: key}})
	}
	return cfgs
}

func TestLedgerContract(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, cfg := range drivers(t) {
		cfg := cfg
		t.Run(cfg.Driver, func(t *testing.T) {
			t.Parallel()
			l, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer l.Close()

			if ok, err := l.Scheduled(ctx, "row:1"); err != nil || ok {
				t.Fatalf("Scheduled before mark = %v, %v", ok, err)
			}
			for i := 0; i < 2; i++ {
				if err := l.MarkScheduled(ctx, Entry{Key: "row:1"}); err != nil {
					t.Fatalf("MarkScheduled: %v", err)
				}
			}
			if err := l.MarkScheduled(ctx, Entry{Key: "row:2"}); err != nil {
				t.Fatalf("MarkScheduled: %v", err)
			}
			if ok, err := l.Scheduled(ctx, "row:1"); err != nil || !ok {
				t.Fatalf("Scheduled after mark = %v, %v", ok, err)
			}
			if n, err := l.Len(ctx); err != nil || n != 2 {
				t.Fatalf("Len = %d, %v; want 2", n, err)
			}
			if err := l.MarkScheduled(ctx, Entry{Key: " "}); !errors.Is(err, ErrEmptyKey) {
				t.Fatalf("empty key err = %v", err)
			}
		})
	}
}

func TestDurableDriversSurviveReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "sub", "ledger.jsonl")},
		{Driver: "sqlite", Path: filepath.Join(dir, "ledger.db")},
		{Driver: "bolt", Path: filepath.Join(dir, "ledger.bolt")},
	} {
		l, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("%s: Open: %v", cfg.Driver, err)
		}
		if err := l.MarkScheduled(ctx, Entry{Key: "content:abc"}); err != nil {
			t.Fatalf("%s: MarkScheduled: %v", cfg.Driver, err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("%s: Close: %v", cfg.Driver, err)
		}

		l, err = Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("%s: reopen: %v", cfg.Driver, err)
		}
		ok, err := l.Scheduled(ctx, "content:abc")
		_ = l.Close()
		if err != nil || !ok {
			t.Fatalf("%s: Scheduled after reopen = %v, %v", cfg.Driver, ok, err)
		}
	}
}

func testEntry(key string, at time.Time) Entry {
	return Entry{
		Key:     key,
		Jobs:    []Job{{Name: key + "/wake", At: at}, {Name: key + "/reminder", At: at.Add(5 * time.Minute)}},
		Payload: []byte(`{"subject":"Asha"}`),
	}
}

func TestOutstandingJobsUntilDone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	at := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	for _, cfg := range drivers(t) {
		cfg := cfg
		t.Run(cfg.Driver, func(t *testing.T) {
			t.Parallel()
			l, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer l.Close()

			if err := l.MarkScheduled(ctx, testEntry("row:1", at)); err != nil {
				t.Fatalf("MarkScheduled: %v", err)
			}
			if err := l.MarkScheduled(ctx, Entry{Key: "row:2"}); err != nil {
				t.Fatalf("MarkScheduled: %v", err)
			}
			// A repeated mark must not bring back finished jobs.
			if err := l.JobDone(ctx, "row:1", "row:1/wake"); err != nil {
				t.Fatalf("JobDone: %v", err)
			}
			if err := l.MarkScheduled(ctx, testEntry("row:1", at)); err != nil {
				t.Fatalf("MarkScheduled again: %v", err)
			}

			got, err := l.Outstanding(ctx)
			if err != nil {
				t.Fatalf("Outstanding: %v", err)
			}
			if len(got) != 1 || got[0].Key != "row:1" || len(got[0].Jobs) != 1 {
				t.Fatalf("Outstanding = %+v", got)
			}
			j := got[0].Jobs[0]
			if j.Name != "row:1/reminder" || !j.At.Equal(at.Add(5*time.Minute)) {
				t.Fatalf("job = %+v", j)
			}
			if string(got[0].Payload) != `{"subject":"Asha"}` {
				t.Fatalf("payload = %s", got[0].Payload)
			}

			for _, name := range []string{"row:1/nope", "row:1/reminder"} {
				if err := l.JobDone(ctx, "row:1", name); err != nil {
					t.Fatalf("JobDone(%s): %v", name, err)
				}
			}
			if err := l.JobDone(ctx, "row:9", "row:9/wake"); err != nil {
				t.Fatalf("JobDone unknown key: %v", err)
			}
			if got, err := l.Outstanding(ctx); err != nil || len(got) != 0 {
				t.Fatalf("Outstanding after done = %+v, %v", got, err)
			}
			if ok, _ := l.Scheduled(ctx, "row:1"); !ok {
				t.Fatal("finished key no longer scheduled")
			}
		})
	}
}

func TestOutstandingSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	at := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "ledger.jsonl")},
		{Driver: "sqlite", Path: filepath.Join(dir, "ledger.db")},
		{Driver: "bolt", Path: filepath.Join(dir, "ledger.bolt")},
	} {
		l, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("%s: Open: %v", cfg.Driver, err)
		}
		_ = l.MarkScheduled(ctx, testEntry("row:1", at))
		_ = l.MarkScheduled(ctx, testEntry("row:2", at))
		_ = l.JobDone(ctx, "row:1", "row:1/wake")
		_ = l.JobDone(ctx, "row:2", "row:2/wake")
		_ = l.JobDone(ctx, "row:2", "row:2/reminder")
		if err := l.Close(); err != nil {
			t.Fatalf("%s: Close: %v", cfg.Driver, err)
		}

		l, err = Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("%s: reopen: %v", cfg.Driver, err)
		}
		got, err := l.Outstanding(ctx)
		_ = l.Close()
		if err != nil {
			t.Fatalf("%s: Outstanding: %v", cfg.Driver, err)
		}
		if len(got) != 1 || got[0].Key != "row:1" || len(got[0].Jobs) != 1 || got[0].Jobs[0].Name != "row:1/reminder" {
			t.Fatalf("%s: Outstanding after reopen = %+v", cfg.Driver, got)
		}
	}
}

func TestFileJournalSkipsTornLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	body := `{"key":"row:1","at":1}` + "\n" + `{"key":"row:2","a`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	l, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()
	if n, _ := l.Len(context.Background()); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_ = m.Close()
	if _, err := m.Scheduled(context.Background(), "row:1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Scheduled err = %v", err)
	}
	if err := m.MarkScheduled(context.Background(), Entry{Key: "row:1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("MarkScheduled err = %v", err)
	}
}

func TestMemoryConcurrentMarks(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = m.MarkScheduled(context.Background(), Entry{Key: fmt.Sprintf("row:%d", j)})
				_, _ = m.Scheduled(context.Background(), fmt.Sprintf("row:%d", i))
			}
		}(i)
	}
	wg.Wait()
	if n, _ := m.Len(context.Background()); n != 50 {
		t.Fatalf("Len = %d, want 50", n)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}
