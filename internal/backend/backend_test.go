package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"housefees/internal/config"
	"housefees/internal/core"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	cfg, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db"})
	if err != nil || cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != "x.db" {
		t.Fatalf("FromAppConfig = %+v, %v", cfg, err)
	}
}

func TestFactoryCreate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"file", Config{Type: FileBackend, DataFile: filepath.Join(dir, "data.json")}},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(dir, "data.db")}},
		{"memory", Config{Type: MemoryBackend}},
	}
	f := NewFactory(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			res, err := f.Create(ctx, tt.cfg)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			defer res.Cleanup()

			if _, err := res.Persister.Load(ctx); !errors.Is(err, core.ErrNoSnapshot) {
				t.Fatalf("fresh backend Load = %v, want ErrNoSnapshot", err)
			}
			if err := res.Persister.Save(ctx, []byte(`{}`)); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := res.Persister.Load(ctx)
			if err != nil || string(got) != `{}` {
				t.Fatalf("Load = %q, %v", got, err)
			}
		})
	}

	if _, err := f.Create(context.Background(), Config{Type: "bogus"}); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestTypes(t *testing.T) {
	for _, typ := range Types() {
		if !typ.IsValid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if Type("sheets").IsValid() {
		t.Error("sheets is not a ledger backend")
	}
}
