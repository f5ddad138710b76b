package registry

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store. It does not survive restarts; it backs
// tests and ephemeral single-run deployments.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) EnsureSchema(_ context.Context) error { return nil }

func (m *Memory) Save(_ context.Context, e Entry) error {
	m.mu.Lock()
	m.entries[e.ID] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Entry, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	return e, ok, nil
}

func (m *Memory) GetAll(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		e.Status = status
		m.entries[id] = e
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
