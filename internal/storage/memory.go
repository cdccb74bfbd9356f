package storage

import (
	"context"
	"sync"

	"housefees/internal/core"
)

// MemoryStore is a process-local persister for tests and DATA_BACKEND=memory.
type MemoryStore struct {
	mu          sync.Mutex
	data        []byte
	saves       int
	quarantined [][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, core.ErrNoSnapshot
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func (m *MemoryStore) Quarantine(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data != nil {
		m.quarantined = append(m.quarantined, m.data)
		m.data = nil
	}
	return nil
}

// Saves reports how many snapshots have been written.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Quarantined reports how many snapshots have been set aside.
func (m *MemoryStore) Quarantined() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.quarantined)
}
