package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"housefees/internal/ledger"
)

func TestValidName(t *testing.T) {
	for _, name := range []string{"", "../x.json", "a/b.json", `a\b.json`, ".hidden.json"} {
		if err := validName(name); err == nil {
			t.Errorf("validName(%q) should fail", name)
		}
	}
	if err := validName("Backup_Housing_Data_20260101_000000.json"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
}

func archives(t *testing.T) map[string]Archive {
	t.Helper()
	fs, err := NewFS(filepath.Join(t.TempDir(), "backups"))
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return map[string]Archive{"fs": fs, "memory": NewMemory()}
}

func TestArchivesRoundTrip(t *testing.T) {
	for name, a := range archives(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, _, err := Latest(ctx, a); !errors.Is(err, ErrNotFound) {
				t.Fatalf("empty archive Latest = %v", err)
			}
			if err := a.Put(ctx, "b.json", []byte("second")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := a.Put(ctx, "a.json", []byte("first")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := a.Put(ctx, "a.json", []byte("again")); err == nil {
				t.Fatalf("overwriting an archived backup should fail")
			}

			entries, err := a.List(ctx)
			if err != nil || len(entries) != 2 || entries[0].Name != "a.json" {
				t.Fatalf("List = %+v, %v", entries, err)
			}
			got, err := a.Get(ctx, "a.json")
			if err != nil || string(got) != "first" {
				t.Fatalf("Get = %q, %v", got, err)
			}
			if _, err := a.Get(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestFSListSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	_ = os.Mkdir(filepath.Join(dir, "sub.json"), 0o755)
	entries, err := a.List(context.Background())
	if err != nil || len(entries) != 0 {
		t.Fatalf("List = %+v, %v", entries, err)
	}
}

func TestSinkStoresBackup(t *testing.T) {
	mem := NewMemory()
	sink := Sink(mem, nil)
	b := ledger.Backup{Name: "Backup_Housing_Data_20260101_000000.json", Data: []byte("{}"), TakenAt: time.Now()}
	if err := sink.Deliver(context.Background(), b); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := sink.Deliver(context.Background(), b); err == nil {
		t.Fatalf("second delivery of the same name should fail")
	}
	got, err := mem.Get(context.Background(), b.Name)
	if err != nil || string(got) != "{}" {
		t.Fatalf("Get = %q, %v", got, err)
	}
}
