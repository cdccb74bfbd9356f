// Package archive keeps copies of ledger backups outside the chat channel:
// on the local filesystem, in an S3 compatible bucket, or in memory.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"housefees/internal/ledger"
	applog "housefees/internal/log"
)

// ErrNotFound is returned by Get for an unknown backup name.
var ErrNotFound = errors.New("backup not found")

// Entry describes one archived backup.
type Entry struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Archive stores backup files by name.
type Archive interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns entries ordered by name, which for backup names is
	// chronological.
	List(ctx context.Context) ([]Entry, error)
}

// validName rejects names that could escape the archive root.
func validName(name string) error {
	if name == "" || name != path.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid backup name %q", name)
	}
	return nil
}

// Sink adapts an Archive to ledger.BackupSink.
func Sink(a Archive, logger *slog.Logger) ledger.BackupSink {
	logger = applog.WithComponent(logger, applog.ComponentArchive)
	return ledger.SinkFunc(func(ctx context.Context, b ledger.Backup) error {
		if err := a.Put(ctx, b.Name, b.Data); err != nil {
			return fmt.Errorf("archive %s: %w", b.Name, err)
		}
		logger.InfoContext(ctx, "Backup archived", applog.FieldFileName, b.Name, "bytes", len(b.Data))
		return nil
	})
}

// Latest returns the newest archived backup, or ErrNotFound when the archive
// is empty.
func Latest(ctx context.Context, a Archive) (Entry, []byte, error) {
	entries, err := a.List(ctx)
	if err != nil {
		return Entry{}, nil, err
	}
	if len(entries) == 0 {
		return Entry{}, nil, ErrNotFound
	}
	last := entries[len(entries)-1]
	data, err := a.Get(ctx, last.Name)
	if err != nil {
		return Entry{}, nil, err
	}
	return last, data, nil
}
