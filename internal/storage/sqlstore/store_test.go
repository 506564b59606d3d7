package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/storage/sqlstore"
	"github.com/storysync/storysync/internal/testutil/teststore"
	"github.com/storysync/storysync/internal/types"
)

func TestSQLiteConformance(t *testing.T) {
	teststore.RunConformance(t, func(t testing.TB) storage.Storage {
		return teststore.New(t)
	})
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), sqlstore.Config{Backend: "postgres", DSN: "x"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), sqlstore.Config{Backend: sqlstore.BackendSQLite})
	if err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestReopenPreservesData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	s, err := sqlstore.Open(ctx, sqlstore.Config{DSN: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Backend() != sqlstore.BackendSQLite {
		t.Errorf("Backend() = %q, want sqlite", s.Backend())
	}
	if _, err := s.UpsertTask(ctx, &types.Task{ID: "T1", Title: "persisted"}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = sqlstore.Open(ctx, sqlstore.Config{DSN: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetTask(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTask after reopen: %v", err)
	}
	if got.Title != "persisted" {
		t.Errorf("Title = %q, want persisted", got.Title)
	}
}

func TestUpsertAfterClaimKeepsKey(t *testing.T) {
	env := teststore.NewEnv(t)
	task := env.CreateTask("T1", "one")
	if _, err := env.Store.ClaimRemoteKey(env.Ctx, "T1", "PROJ-7", task.Version); err != nil {
		t.Fatalf("ClaimRemoteKey: %v", err)
	}
	// A writer holding the pre-claim copy must not drop the key.
	task.Title = "renamed"
	stored, err := env.Store.UpsertTask(env.Ctx, task)
	if err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	if stored.RemoteKey() != "PROJ-7" {
		t.Errorf("returned RemoteKey = %q, want PROJ-7", stored.RemoteKey())
	}
	if got := env.Get("T1"); got.RemoteKey() != "PROJ-7" || got.Title != "renamed" {
		t.Errorf("stored task = %+v", got)
	}
}
