package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wakebot/internal/eventbus"
	"wakebot/internal/task/engine"
	logx "wakebot/pkg/logx"
)

func newStarted(t *testing.T, cfg Config) *Service {
	t.Helper()
	eng := engine.New(engine.Config{Workers: 4, QueueSize: 8}, logx.Nop(), nil)
	s := New(cfg, eng, logx.Nop(), eventbus.New())
	eng.Start(context.Background())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAddOnceFiresExactlyOnce(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{})
	var runs atomic.Int32
	id, err := s.AddOnce("row:1/wake", time.Now().Add(20*time.Millisecond), 0, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil || id == "" {
		t.Fatalf("AddOnce = %q, %v", id, err)
	}
	eventually(t, func() bool { return runs.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d after fire", s.Pending())
	}
}

func TestAddOnceBeforeStartIsHeld(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{Workers: 1}, logx.Nop(), nil)
	s := New(Config{}, eng, logx.Nop(), nil)

	fired := make(chan struct{})
	if _, err := s.AddOnce("held", time.Now().Add(-time.Minute), 0, func(ctx context.Context) error {
		close(fired)
		return nil
	}); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}

	select {
	case <-fired:
		t.Fatal("job fired before Start")
	case <-time.After(50 * time.Millisecond):
	}
	if got := s.Snapshot().Pending; len(got) != 1 || got[0].Name != "held" {
		t.Fatalf("pending = %+v", got)
	}

	eng.Start(context.Background())
	s.Start(context.Background())
	defer func() {
		s.Stop(context.Background())
		eng.Stop(context.Background())
	}()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("overdue job did not fire on Start")
	}
}

func TestAddOnceReplaceAndRemove(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{})
	var first, second, removed atomic.Int32

	_, _ = s.AddOnce("row:2/wake", time.Now().Add(30*time.Millisecond), 0, func(ctx context.Context) error {
		first.Add(1)
		return nil
	})
	_, _ = s.AddOnce("row:2/wake", time.Now().Add(30*time.Millisecond), 0, func(ctx context.Context) error {
		second.Add(1)
		return nil
	})
	_, _ = s.AddOnce("row:2/reminder", time.Now().Add(30*time.Millisecond), 0, func(ctx context.Context) error {
		removed.Add(1)
		return nil
	})
	if !s.Remove("row:2/reminder") {
		t.Fatal("Remove returned false")
	}

	eventually(t, func() bool { return second.Load() == 1 })
	time.Sleep(60 * time.Millisecond)
	if first.Load() != 0 || removed.Load() != 0 {
		t.Fatalf("stale jobs ran: first=%d removed=%d", first.Load(), removed.Load())
	}
}

func TestConcurrentAddWhileFiring(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{})

	const producers, perProducer = 8, 50
	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				i := i
				name := fmt.Sprintf("p%d/j%d", p, i)
				at := time.Now().Add(time.Duration(i%5) * time.Millisecond)
				_, err := s.AddOnce(name, at, 0, func(ctx context.Context) error {
					mu.Lock()
					seen[name]++
					mu.Unlock()
					// Jobs may schedule further work while firing.
					if i%10 == 0 {
						child := name + "/child"
						_, _ = s.AddOnce(child, time.Now(), 0, func(ctx context.Context) error {
							mu.Lock()
							seen[child]++
							mu.Unlock()
							return nil
						})
					}
					return nil
				})
				if err != nil {
					t.Errorf("AddOnce(%s): %v", name, err)
				}
			}
		}(p)
	}
	wg.Wait()

	want := producers*perProducer + producers*(perProducer/10)
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == want
	})
	mu.Lock()
	defer mu.Unlock()
	for name, n := range seen {
		if n != 1 {
			t.Fatalf("job %s ran %d times", name, n)
		}
	}
}

func TestStopAbandonsPending(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{Workers: 1}, logx.Nop(), nil)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := New(Config{}, eng, logx.Nop(), bus)
	eng.Start(context.Background())
	s.Start(context.Background())

	var ran atomic.Bool
	_, _ = s.AddOnce("later", time.Now().Add(time.Hour), 0, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	s.Stop(context.Background())
	eng.Stop(context.Background())

	if s.Pending() != 0 || ran.Load() {
		t.Fatalf("pending=%d ran=%v", s.Pending(), ran.Load())
	}
	for {
		select {
		case e := <-events:
			if e.Type == eventbus.TypeJobAbandoned {
				return
			}
		default:
			t.Fatal("no abandon event published")
		}
	}
}

func TestIntervalRunsDoNotOverlap(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{})

	var active, maxActive, runs atomic.Int32
	_, err := s.AddInterval("reconcile", time.Second, func(ctx context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		// Longer than the interval, so the next trigger arrives mid-run.
		time.Sleep(1500 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d", runs.Load())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := maxActive.Load(); got != 1 {
		t.Fatalf("max concurrent runs = %d, want 1", got)
	}
}

func TestIntervalCadenceFollowsTriggerTime(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)
	_, err := s.AddInterval("reconcile", time.Second, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("interval never fired")
	}
	// The run is still blocked, yet the next trigger is already one
	// interval after the previous one.
	var info ScheduleInfo
	eventually(t, func() bool {
		for _, it := range s.Snapshot().Schedules {
			if it.Name == "reconcile" {
				info = it
			}
		}
		return !info.Prev.IsZero()
	})
	if got := info.Next.Sub(info.Prev); got != time.Second {
		t.Fatalf("Next - Prev = %v, want 1s", got)
	}
}

func TestTimezoneApplied(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "Asia/Kolkata"}, nil, logx.Nop(), nil)
	if got := s.Location().String(); got != "Asia/Kolkata" {
		t.Fatalf("Location = %s", got)
	}
	s = New(Config{Timezone: "Not/AZone"}, nil, logx.Nop(), nil)
	if s.Location() != time.Local {
		t.Fatalf("invalid zone should fall back to Local, got %s", s.Location())
	}
}

func TestRunFiresHeldJobsAndDrainsOnCancel(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{Workers: 2, DrainTimeout: 2 * time.Second}, logx.Nop(), nil)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	s := New(Config{}, eng, logx.Nop(), bus)

	held := make(chan struct{})
	started := make(chan struct{})
	var finished, later atomic.Bool
	_, _ = s.AddOnce("overdue", time.Now().Add(-time.Minute), 0, func(ctx context.Context) error {
		close(held)
		return nil
	})
	_, _ = s.AddOnce("slow", time.Now(), 0, func(ctx context.Context) error {
		close(started)
		time.Sleep(200 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	_, _ = s.AddOnce("later", time.Now().Add(time.Hour), 0, func(ctx context.Context) error {
		later.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	for _, ch := range []chan struct{}{held, started} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("held job did not fire after Run")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if !finished.Load() {
		t.Fatal("in-flight job was not drained")
	}
	if later.Load() || s.Pending() != 0 {
		t.Fatalf("later ran=%v pending=%d", later.Load(), s.Pending())
	}
	for {
		select {
		case e := <-events:
			if e.Type == eventbus.TypeJobAbandoned {
				if n, _ := e.Data.(int); n != 1 {
					t.Fatalf("abandoned = %v, want 1", e.Data)
				}
				return
			}
		default:
			t.Fatal("no abandon event published")
		}
	}
}
