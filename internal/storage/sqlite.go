package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"housefees/internal/core"
	applog "housefees/internal/log"
)

const ledgerBucket = "ledger"

// SQLiteStore keeps the ledger snapshot as a single JSON payload row.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// migrates it.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Writes are already serialized by the ledger; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		path:   dbPath,
		logger: applog.WithComponent(logger, applog.ComponentStorage),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Load returns the stored snapshot or core.ErrNoSnapshot.
func (s *SQLiteStore) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM ledger_snapshot WHERE bucket = ?`, ledgerBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return payload, nil
}

// Save upserts the snapshot.
func (s *SQLiteStore) Save(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_snapshot(bucket, payload, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		ledgerBucket, data, s.now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Quarantine moves the current snapshot row into the quarantine table in one
// transaction.
func (s *SQLiteStore) Quarantine(ctx context.Context) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quarantine: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_snapshot_quarantine(bucket, payload, quarantined_at)
		 SELECT bucket, payload, ? FROM ledger_snapshot WHERE bucket = ?`,
		s.now().Format(time.RFC3339), ledgerBucket)
	if err != nil {
		return fmt.Errorf("copy snapshot to quarantine: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_snapshot WHERE bucket = ?`, ledgerBucket); err != nil {
		return fmt.Errorf("delete quarantined snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quarantine: %w", err)
	}

	moved, _ := res.RowsAffected()
	s.logger.WarnContext(ctx, "Snapshot quarantined", "rows", moved)
	return nil
}

// QuarantinedCount returns how many snapshots have been set aside.
func (s *SQLiteStore) QuarantinedCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_snapshot_quarantine`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count quarantine: %w", err)
	}
	return n, nil
}

// Ping checks the database connection for readiness probes.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
