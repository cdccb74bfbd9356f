// Package cache holds short-lived per-caller state in memory.
package cache

import (
	"context"
	"log/slog"
	"time"

	applog "housefees/internal/log"
)

// Cache is the subset of LRUCache used by callers that only need key/value
// access.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, data V)
	Delete(key K)
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager periodically cleans its registered caches.
type Manager struct {
	caches []Cleaner
	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: applog.WithComponent(logger, applog.ComponentCache)}
}

func (m *Manager) Register(c Cleaner) {
	m.caches = append(m.caches, c)
}

// CleanAll cleans every registered cache once.
func (m *Manager) CleanAll() int {
	total := 0
	for _, c := range m.caches {
		total += c.CleanExpired()
	}
	return total
}

// Run cleans every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.CleanAll(); n > 0 {
				m.logger.DebugContext(ctx, "Expired cache entries removed", "count", n)
			}
		}
	}
}
