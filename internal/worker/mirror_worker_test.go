package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"housefees/internal/amqp"
	"housefees/internal/core"
	"housefees/internal/ledger"
	"housefees/internal/metrics"
	"housefees/internal/sheets/memory"
	"housefees/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snapshotOf(t *testing.T, units ...core.Unit) []byte {
	t.Helper()
	m := make(map[core.Identity]core.Unit, len(units))
	for _, u := range units {
		m[u.Identity()] = u
	}
	data, err := ledger.EncodeSnapshot(m)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	return data
}

func TestSyncMirrorsSnapshotInIdentityOrder(t *testing.T) {
	ctx := context.Background()
	src := storage.NewMemoryStore()
	if err := src.Save(ctx, snapshotOf(t,
		core.Unit{HouseNumber: 3, OwnerName: "C", Floor: 2, BranchNumber: 1},
		core.Unit{HouseNumber: 9, OwnerName: "B", Floor: 1, BranchNumber: 2, PaidAmount: 25000},
		core.Unit{HouseNumber: 2, OwnerName: "A", Floor: 1, BranchNumber: 1},
	)); err != nil {
		t.Fatal(err)
	}
	mirror := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	w := NewMirrorWorker(src, mirror, m, quietLogger(), time.Minute)

	if err := w.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	rows := mirror.Rows()
	var got []string
	for _, r := range rows[1:] {
		got = append(got, r[0])
	}
	want := []string{"1-2", "1-9", "2-3"}
	if len(got) != len(want) {
		t.Fatalf("rows = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rows = %v, want %v", got, want)
		}
	}
	if v := testutil.ToFloat64(m.MirrorSyncs.WithLabelValues(metrics.OutcomeOK)); v != 1 {
		t.Fatalf("mirror sync ok = %v", v)
	}
	if w.LastSync().IsZero() {
		t.Fatal("last sync not recorded")
	}
}

func TestSyncWithoutSnapshotWritesHeader(t *testing.T) {
	mirror := memory.New()
	w := NewMirrorWorker(storage.NewMemoryStore(), mirror, nil, quietLogger(), 0)
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rows := mirror.Rows(); len(rows) != 1 {
		t.Fatalf("expected header only, got %v", rows)
	}
}

func TestSyncFailures(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		data   []byte
		mirErr error
	}{
		{name: "corrupt snapshot", data: []byte("{oops")},
		{name: "mirror rejects", data: []byte("{}"), mirErr: errors.New("quota")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := storage.NewMemoryStore()
			if err := src.Save(ctx, tt.data); err != nil {
				t.Fatal(err)
			}
			mirror := memory.New()
			mirror.FailWith(tt.mirErr)
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			w := NewMirrorWorker(src, mirror, m, quietLogger(), time.Minute)

			if err := w.Sync(ctx); err == nil {
				t.Fatal("expected error")
			}
			if v := testutil.ToFloat64(m.MirrorSyncs.WithLabelValues(metrics.OutcomeError)); v != 1 {
				t.Fatalf("mirror sync errors = %v", v)
			}
			if !w.LastSync().IsZero() {
				t.Fatal("failed sync must not advance last sync")
			}
		})
	}
}

func TestHandleEventSkipsCoveredEvents(t *testing.T) {
	ctx := context.Background()
	mirror := memory.New()
	w := NewMirrorWorker(storage.NewMemoryStore(), mirror, nil, quietLogger(), time.Minute)

	stale := amqp.NewResetEvent(3)
	stale.Timestamp = time.Now().Add(-time.Hour)
	if err := w.HandleEvent(ctx, stale); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if mirror.Updates() != 1 {
		t.Fatalf("first event should sync, updates=%d", mirror.Updates())
	}

	if err := w.HandleEvent(ctx, stale); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if mirror.Updates() != 1 {
		t.Fatalf("covered event should be skipped, updates=%d", mirror.Updates())
	}

	fresh := amqp.NewRestoreEvent(3)
	fresh.Timestamp = time.Now().Add(time.Second)
	if err := w.HandleEvent(ctx, fresh); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if mirror.Updates() != 2 {
		t.Fatalf("fresh event should sync, updates=%d", mirror.Updates())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mirror := memory.New()
	w := NewMirrorWorker(storage.NewMemoryStore(), mirror, nil, quietLogger(), 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for mirror.Updates() < 2 {
		select {
		case <-deadline:
			t.Fatalf("periodic sync did not run, updates=%d", mirror.Updates())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
