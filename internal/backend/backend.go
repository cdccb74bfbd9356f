// Package backend builds the ledger persistence backend selected by
// DATA_BACKEND.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"housefees/internal/config"
	"housefees/internal/ledger"
	applog "housefees/internal/log"
	"housefees/internal/storage"
)

// Type names a persistence backend.
type Type string

const (
	FileBackend   Type = config.BackendFile
	SQLiteBackend Type = config.BackendSQLite
	MemoryBackend Type = config.BackendMemory
)

func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is known.
func (t Type) IsValid() bool {
	switch t {
	case FileBackend, SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// Types returns all valid backend types.
func Types() []Type {
	return []Type{FileBackend, SQLiteBackend, MemoryBackend}
}

// Pinger is implemented by backends that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// Result is a ready persister and the function that releases it.
type Result struct {
	Type      Type
	Persister ledger.Persister
	Cleanup   CleanupFunc
}

// Config holds what a backend needs.
type Config struct {
	Type         Type
	DataFile     string
	SQLiteDBPath string
}

// FromAppConfig converts the application config to backend config.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}
	t := Type(appConfig.DataBackend)
	if !t.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}
	return Config{
		Type:         t,
		DataFile:     appConfig.DataFile,
		SQLiteDBPath: appConfig.SQLiteDBPath,
	}, nil
}

// Factory creates persisters.
type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: applog.WithComponent(logger, applog.ComponentBackend)}
}

// Create opens the configured backend.
func (f *Factory) Create(ctx context.Context, cfg Config) (*Result, error) {
	switch cfg.Type {
	case FileBackend:
		fs, err := storage.NewFileStore(cfg.DataFile, f.logger)
		if err != nil {
			return nil, fmt.Errorf("initialize file backend: %w", err)
		}
		f.logger.InfoContext(ctx, "Using file backend", "path", fs.Path())
		return &Result{Type: cfg.Type, Persister: fs, Cleanup: func() error { return nil }}, nil

	case SQLiteBackend:
		db, err := storage.NewSQLiteStore(cfg.SQLiteDBPath, f.logger)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite backend: %w", err)
		}
		f.logger.InfoContext(ctx, "Using SQLite backend", "path", db.Path())
		return &Result{Type: cfg.Type, Persister: db, Cleanup: db.Close}, nil

	case MemoryBackend:
		f.logger.WarnContext(ctx, "Using memory backend, ledger changes will not survive a restart")
		return &Result{Type: cfg.Type, Persister: storage.NewMemoryStore(), Cleanup: func() error { return nil }}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}
