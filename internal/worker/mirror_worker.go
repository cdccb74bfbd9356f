// Package worker keeps the spreadsheet mirror in step with the persisted
// ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"housefees/internal/amqp"
	"housefees/internal/core"
	"housefees/internal/ledger"
	applog "housefees/internal/log"
	"housefees/internal/metrics"
	"housefees/internal/sheets"
)

// SnapshotSource reads the last persisted ledger snapshot.
type SnapshotSource interface {
	Load(ctx context.Context) ([]byte, error)
}

// MirrorWorker rewrites the mirror from the persisted snapshot whenever a
// ledger event arrives, and periodically as a safety net for lost events.
type MirrorWorker struct {
	source   SnapshotSource
	mirror   sheets.LedgerMirror
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration

	// syncMu serializes full rewrites; overlapping ones would interleave
	// clear and update calls on the sheet.
	syncMu   sync.Mutex
	lastSync time.Time
}

func NewMirrorWorker(source SnapshotSource, mirror sheets.LedgerMirror, m *metrics.Metrics, logger *slog.Logger, interval time.Duration) *MirrorWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MirrorWorker{
		source:   source,
		mirror:   mirror,
		metrics:  m,
		logger:   applog.WithComponent(logger, applog.ComponentWorker),
		interval: interval,
	}
}

// HandleEvent is the AMQP consumer callback. Every event type triggers a full
// resync; returning an error requeues the delivery.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	w.logger.InfoContext(ctx, "Processing ledger event",
		"type", ev.Type,
		applog.FieldIdentity, ev.Identity,
		"timestamp", ev.Timestamp)

	// Events published before the last full sync are already reflected.
	if last := w.LastSync(); !last.IsZero() && ev.Timestamp.Before(last) {
		w.logger.DebugContext(ctx, "Event already covered by a later sync", "last_sync", last)
		return nil
	}
	return w.Sync(ctx)
}

// Sync mirrors the current snapshot. A missing snapshot mirrors an empty
// ledger so a fresh deployment still gets the header row.
func (w *MirrorWorker) Sync(ctx context.Context) error {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	started := time.Now()
	err := w.sync(ctx)
	w.metrics.ObserveMirrorSync(err)
	if err != nil {
		w.logger.ErrorContext(ctx, "Mirror sync failed",
			applog.FieldOperation, applog.OpSync,
			applog.FieldError, err)
		return err
	}
	w.lastSync = started
	return nil
}

func (w *MirrorWorker) sync(ctx context.Context) error {
	var units []core.Unit
	data, err := w.source.Load(ctx)
	switch {
	case errors.Is(err, core.ErrNoSnapshot):
		w.logger.WarnContext(ctx, "No persisted snapshot yet, mirroring an empty ledger")
	case err != nil:
		return fmt.Errorf("load snapshot: %w", err)
	default:
		records, err := ledger.DecodeSnapshot(data)
		if err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		units = sortedUnits(records)
	}

	if err := w.mirror.ReplaceUnits(ctx, units); err != nil {
		return fmt.Errorf("replace mirror: %w", err)
	}
	w.logger.InfoContext(ctx, "Mirror synced",
		applog.FieldOperation, applog.OpSync,
		applog.FieldUnits, len(units))
	return nil
}

// LastSync is the start time of the last successful sync.
func (w *MirrorWorker) LastSync() time.Time {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	return w.lastSync
}

// Run performs a startup sync and then resyncs every interval until ctx is
// done. Failed syncs are logged and retried on the next tick.
func (w *MirrorWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Mirror worker started", "interval", w.interval)
	if err := w.Sync(ctx); err != nil && ctx.Err() == nil {
		w.logger.WarnContext(ctx, "Startup sync failed, will retry", applog.FieldError, err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Mirror worker stopped")
			return nil
		case <-ticker.C:
			_ = w.Sync(ctx)
		}
	}
}

func sortedUnits(records map[core.Identity]core.Unit) []core.Unit {
	out := make([]core.Unit, 0, len(records))
	for _, u := range records {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Floor != out[j].Floor {
			return out[i].Floor < out[j].Floor
		}
		return out[i].HouseNumber < out[j].HouseNumber
	})
	return out
}
