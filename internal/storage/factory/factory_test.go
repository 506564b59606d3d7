package factory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/storage/memory"
	"github.com/storysync/storysync/internal/types"
)

func TestNew_SQLiteBackend(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := New(ctx, config.StorageSettings{Backend: "sqlite", DSN: dbPath}, Options{})
	if err != nil {
		t.Fatalf("New(sqlite) failed: %v", err)
	}
	defer store.Close()

	if _, err := store.UpsertTask(ctx, &types.Task{ID: "T1", Title: "widget"}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
}

func TestNew_EmptyBackendDefaultsToSQLite(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := New(ctx, config.StorageSettings{DSN: dbPath}, Options{})
	if err != nil {
		t.Fatalf("New('') failed: %v", err)
	}
	defer store.Close()
}

func TestNew_Memory(t *testing.T) {
	store, err := New(context.Background(), config.StorageSettings{Backend: "Memory"}, Options{})
	if err != nil {
		t.Fatalf("New(memory) failed: %v", err)
	}
	if _, ok := store.(*memory.MemoryStorage); !ok {
		t.Errorf("got %T, want *memory.MemoryStorage", store)
	}
}

func TestNew_InstrumentDisabledIsIdentity(t *testing.T) {
	t.Setenv("STORYSYNC_OTEL_ENABLED", "")
	store, err := New(context.Background(), config.StorageSettings{Backend: "memory"}, Options{Instrument: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*memory.MemoryStorage); !ok {
		t.Errorf("got %T, want the bare store when telemetry is off", store)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.StorageSettings{Backend: "unknown-backend", DSN: "/tmp/fake"}, Options{})
	if err == nil {
		t.Fatal("New(unknown) should return error")
	}
	if !strings.Contains(err.Error(), "unknown storage backend") {
		t.Errorf("error should mention unknown backend, got: %v", err)
	}
	if !strings.Contains(err.Error(), "memory, mysql, sqlite") {
		t.Errorf("error should list backends, got: %v", err)
	}
}

func TestNew_SQLiteRequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), config.StorageSettings{Backend: "sqlite"}, Options{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
