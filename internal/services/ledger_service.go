// Package services orchestrates ledger mutations with their side effects:
// metrics, event publishing and backup archiving.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"housefees/internal/amqp"
	"housefees/internal/archive"
	"housefees/internal/core"
	"housefees/internal/ledger"
	applog "housefees/internal/log"
	"housefees/internal/metrics"
)

// Publisher sends ledger events to the bus.
type Publisher interface {
	PublishEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

// LedgerService wraps the store so every mutation is counted, announced on
// the bus and, for backups, archived. Queries go straight to the embedded
// store.
type LedgerService struct {
	*ledger.Store

	publisher Publisher
	archive   archive.Archive
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures optional collaborators of LedgerService.
type Option func(*LedgerService)

func WithPublisher(p Publisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

func WithArchive(a archive.Archive) Option {
	return func(s *LedgerService) { s.archive = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *LedgerService) { s.metrics = m }
}

func NewLedgerService(store *ledger.Store, logger *slog.Logger, opts ...Option) *LedgerService {
	s := &LedgerService{
		Store:  store,
		logger: applog.WithComponent(logger, applog.ComponentLedger),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SetLedger(store.Aggregate())
	return s
}

// ApplyPayment records a payment. A persistence failure still returns the
// updated unit; the payment is counted and published since it stands in
// memory.
func (s *LedgerService) ApplyPayment(ctx context.Context, id core.Identity, amount int64) (core.Unit, error) {
	u, err := s.Store.ApplyPayment(ctx, id, amount)
	if err != nil && !errors.Is(err, core.ErrPersistence) {
		return u, err
	}
	if err != nil {
		s.metrics.IncPersistFailure()
	}
	s.metrics.ObservePayment(amount)
	s.refreshGauges()
	s.publish(ctx, amqp.NewPaymentEvent(u, amount))

	s.logger.InfoContext(ctx, "Payment recorded",
		applog.NewFields().
			WithOperation(applog.OpPayment).
			WithPayment(u.Identity().String(), amount, u.PaidAmount).
			WithError(err).
			ToSlice()...)
	return u, err
}

// Backup captures a snapshot for an explicit request and archives a copy.
// Archive failures are logged only; the caller still gets the backup.
func (s *LedgerService) Backup(ctx context.Context) (ledger.Backup, error) {
	b, err := s.Store.Backup(ctx)
	if err != nil {
		s.metrics.IncPersistFailure()
	}
	s.metrics.ObserveBackup(err)
	if len(b.Data) > 0 && s.archive != nil {
		if aerr := archive.Sink(s.archive, s.logger).Deliver(ctx, b); aerr != nil {
			s.logger.WarnContext(ctx, "Failed to archive backup",
				applog.FieldOperation, applog.OpBackup,
				applog.FieldError, aerr)
		}
	}
	return b, err
}

// ResetWithBackup delivers the pre-reset backup to sink and the archive,
// then resets the billing cycle.
func (s *LedgerService) ResetWithBackup(ctx context.Context, sink ledger.BackupSink) ledger.ResetReport {
	var archiveSink ledger.BackupSink
	if s.archive != nil {
		archiveSink = archive.Sink(s.archive, s.logger)
	}
	report := s.Store.ResetWithBackup(ctx, ledger.Sinks(sink, archiveSink))

	s.metrics.ObserveBackup(errors.Join(report.BackupErr, report.DeliveryErr))
	if report.BackupErr != nil || report.ResetErr != nil {
		s.metrics.IncPersistFailure()
	}
	s.metrics.IncReset()
	s.refreshGauges()
	s.publish(ctx, amqp.NewResetEvent(report.Units))
	return report
}

// Restore replaces the ledger from raw snapshot bytes.
func (s *LedgerService) Restore(ctx context.Context, raw []byte) (int, error) {
	n, err := s.Store.Restore(ctx, raw)
	s.metrics.ObserveRestore(err)
	if err != nil && !errors.Is(err, core.ErrPersistence) {
		return n, err
	}
	if err != nil {
		s.metrics.IncPersistFailure()
	}
	s.refreshGauges()
	s.publish(ctx, amqp.NewRestoreEvent(n))
	return n, err
}

// RestoreLatest restores the newest archived backup.
func (s *LedgerService) RestoreLatest(ctx context.Context) (archive.Entry, int, error) {
	if s.archive == nil {
		return archive.Entry{}, 0, errors.New("no backup archive configured")
	}
	entry, data, err := archive.Latest(ctx, s.archive)
	if err != nil {
		return archive.Entry{}, 0, fmt.Errorf("latest archived backup: %w", err)
	}
	n, err := s.Restore(ctx, data)
	if err == nil {
		s.logger.InfoContext(ctx, "Ledger restored from archive",
			applog.FieldFileName, entry.Name,
			applog.FieldUnits, n)
	}
	return entry, n, err
}

// publish never fails the caller: the ledger change already happened.
func (s *LedgerService) publish(ctx context.Context, ev *amqp.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishEvent(ctx, ev)
	s.metrics.ObservePublish(err)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			"type", ev.Type,
			applog.FieldError, err)
	}
}

func (s *LedgerService) refreshGauges() {
	if s.metrics != nil {
		s.metrics.SetLedger(s.Store.Aggregate())
	}
}

// Close closes the publisher when it holds a connection.
func (s *LedgerService) Close() error {
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}
