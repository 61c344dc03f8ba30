package blacklist

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries[entry.Subject] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, subject string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[subject]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *MemoryStore) Delete(ctx context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[subject]; !ok {
		return ErrNotFound
	}
	delete(m.entries, subject)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		cp := *entry
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AddedAt.After(all[j].AddedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
