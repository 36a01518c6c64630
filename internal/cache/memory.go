package cache

import (
	"context"
	"sync"
)

// Memory is an in-process Cache used when persistence is disabled and in
// tests. First writer wins, matching the Store semantics.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Cache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	return e.TranslatedText, true, nil
}

func (m *Memory) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[e.Key]; exists {
		return nil
	}
	m.entries[e.Key] = e
	return nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
