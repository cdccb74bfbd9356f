package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"housefees/internal/core"
	applog "housefees/internal/log"
)

const backupTimeLayout = "20060102_150405"

// Backup is a full snapshot captured from the store, byte-identical to what
// was written to durable storage.
type Backup struct {
	Name    string
	Data    []byte
	Units   int
	TakenAt time.Time

	version uint64
}

// BackupSink hands a backup to something outside the process: the chat
// channel, an archive bucket.
type BackupSink interface {
	Deliver(ctx context.Context, b Backup) error
}

// SinkFunc adapts a function to BackupSink.
type SinkFunc func(ctx context.Context, b Backup) error

func (f SinkFunc) Deliver(ctx context.Context, b Backup) error { return f(ctx, b) }

type multiSink []BackupSink

// Sinks delivers to every non-nil sink in order and joins their errors. One
// failing sink does not stop the others.
func Sinks(sinks ...BackupSink) BackupSink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Deliver(ctx context.Context, b Backup) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Backup persists the current state and returns the persisted bytes. If the
// write fails, the backup is still returned along with an error wrapping
// core.ErrPersistence.
func (s *Store) Backup(ctx context.Context) (Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.persistLocked(ctx)
	if data == nil {
		return Backup{}, err
	}
	taken := s.now()
	b := Backup{
		Name:    "Backup_Housing_Data_" + taken.Format(backupTimeLayout) + ".json",
		Data:    data,
		Units:   len(s.units),
		TakenAt: taken,
		version: s.version,
	}
	return b, err
}

// ResetReport is the combined outcome of ResetWithBackup. The reset itself
// always happens; the other fields say how safe it was.
type ResetReport struct {
	Backup Backup
	// BackupErr is set when the snapshot could not be captured or persisted.
	BackupErr error
	// DeliveryErr wraps core.ErrDelivery when a sink rejected the backup.
	DeliveryErr error
	// Units is the number of records that were zeroed.
	Units int
	// ResetErr wraps core.ErrPersistence when the reset could not be persisted.
	ResetErr error
	// ChangedSinceBackup is true when a mutation landed between the backup
	// capture and the reset, so the backup misses it.
	ChangedSinceBackup bool
}

// BackupSafe reports whether a complete backup was captured and delivered.
func (r ResetReport) BackupSafe() bool {
	return len(r.Backup.Data) > 0 && r.DeliveryErr == nil && !r.ChangedSinceBackup
}

// ResetWithBackup captures a backup, delivers it to sink outside the store
// lock, then zeroes every unit regardless of how the backup went.
func (s *Store) ResetWithBackup(ctx context.Context, sink BackupSink) ResetReport {
	var report ResetReport

	b, err := s.Backup(ctx)
	report.Backup, report.BackupErr = b, err

	switch {
	case len(b.Data) == 0:
		report.DeliveryErr = fmt.Errorf("%w: no backup captured", core.ErrDelivery)
	case sink != nil:
		if err := sink.Deliver(ctx, b); err != nil {
			report.DeliveryErr = fmt.Errorf("%w: %w", core.ErrDelivery, err)
		}
	}
	if report.DeliveryErr != nil {
		s.logger.WarnContext(ctx, "Backup was not delivered, resetting anyway",
			applog.FieldError, report.DeliveryErr)
	}

	n, before, err := s.resetAll(ctx)
	report.Units, report.ResetErr = n, err
	report.ChangedSinceBackup = len(b.Data) > 0 && before != b.version

	s.logger.InfoContext(ctx, "Ledger reset",
		"units", n,
		"backup", b.Name,
		"backup_delivered", report.DeliveryErr == nil,
		"changed_since_backup", report.ChangedSinceBackup)
	return report
}

// Restore replaces the whole ledger with the snapshot in raw and returns the
// number of records loaded. Nothing changes unless raw fully validates.
func (s *Store) Restore(ctx context.Context, raw []byte) (int, error) {
	units, err := DecodeSnapshot(raw)
	if err != nil {
		return 0, err
	}
	if err := s.ReplaceAll(ctx, units); err != nil {
		if errors.Is(err, core.ErrPersistence) {
			return len(units), err
		}
		return 0, err
	}
	s.logger.InfoContext(ctx, "Ledger restored from snapshot", "units", len(units))
	return len(units), nil
}
