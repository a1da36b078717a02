package ledger

import (
	"context"
	"sort"
	"sync"
)

// Memory is the default in-process ledger.
type Memory struct {
	mu     sync.Mutex
	keys   map[string]struct{}
	open   map[string]Entry
	closed bool
}

func NewMemory() *Memory {
	return &Memory{keys: map[string]struct{}{}, open: map[string]Entry{}}
}

func (m *Memory) Scheduled(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.keys[key]
	return ok, nil
}

func (m *Memory) MarkScheduled(_ context.Context, e Entry) error {
	if err := checkKey(e.Key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.keys[e.Key]; ok {
		return nil
	}
	m.keys[e.Key] = struct{}{}
	if len(e.Jobs) > 0 {
		m.open[e.Key] = e
	}
	return nil
}

func (m *Memory) JobDone(_ context.Context, key, job string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e, ok := m.open[key]
	if !ok {
		return nil
	}
	if e, _ = e.done(job); len(e.Jobs) == 0 {
		delete(m.open, key)
	} else {
		m.open[key] = e
	}
	return nil
}

func (m *Memory) Outstanding(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Entry, 0, len(m.open))
	for _, e := range m.open {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
