// Package storage provides the durable backends for the ledger snapshot: a
// JSON file, a SQLite database, and an in-memory store for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"housefees/internal/core"
	applog "housefees/internal/log"
)

// FileStore keeps the snapshot in a single JSON file. Saves go to a temp file
// in the same directory and are renamed over the target, so a crash never
// leaves a half-written snapshot.
type FileStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("data file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileStore{
		path:   path,
		logger: applog.WithComponent(logger, applog.ComponentStorage),
		now:    time.Now,
	}, nil
}

// Path returns the snapshot file path.
func (f *FileStore) Path() string { return f.path }

// Load reads the snapshot file. A missing file is core.ErrNoSnapshot.
func (f *FileStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return data, nil
}

// Save writes data atomically.
func (f *FileStore) Save(_ context.Context, data []byte) (retErr error) {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

// Quarantine renames the current snapshot to <path>.corrupt-<timestamp>.
func (f *FileStore) Quarantine(ctx context.Context) error {
	target := fmt.Sprintf("%s.corrupt-%s", f.path, f.now().Format("20060102T150405"))
	if err := os.Rename(f.path, target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("quarantine %s: %w", f.path, err)
	}
	f.logger.WarnContext(ctx, "Snapshot quarantined", "path", target)
	return nil
}
