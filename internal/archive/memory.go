package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process archive.
type Memory struct {
	mu    sync.RWMutex
	files map[string]memFile
}

type memFile struct {
	data     []byte
	modified time.Time
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]memFile)}
}

func (m *Memory) Put(_ context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; ok {
		return fmt.Errorf("backup %s already exists", name)
	}
	m.files[name] = memFile{data: append([]byte(nil), data...), modified: time.Now()}
	return nil
}

func (m *Memory) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return append([]byte(nil), f.data...), nil
}

func (m *Memory) List(context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.files))
	for name, f := range m.files {
		out = append(out, Entry{Name: name, Size: int64(len(f.data)), Modified: f.modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
