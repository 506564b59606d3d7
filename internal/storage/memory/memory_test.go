package memory

import (
	"context"
	"testing"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/testutil/teststore"
	"github.com/storysync/storysync/internal/types"
)

func TestMemoryConformance(t *testing.T) {
	teststore.RunConformance(t, func(t testing.TB) storage.Storage {
		return New()
	})
}

func TestReturnedTasksAreCopies(t *testing.T) {
	ctx := context.Background()
	m := New()
	if _, err := m.UpsertTask(ctx, &types.Task{ID: "T1", Title: "one", RelatedFiles: []string{"a.go"}}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	got, err := m.GetTask(ctx, "T1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	got.Title = "mutated"
	got.RelatedFiles[0] = "b.go"

	again, _ := m.GetTask(ctx, "T1")
	if again.Title != "one" || again.RelatedFiles[0] != "a.go" {
		t.Errorf("stored task was mutated through returned copy: %+v", again)
	}
}

func TestRelinkReleasesOldKey(t *testing.T) {
	ctx := context.Background()
	m := New()
	task, err := m.UpsertTask(ctx, &types.Task{ID: "T1", Title: "one", RemoteIssueKey: types.StrPtr("PROJ-1")})
	if err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	task.RemoteIssueKey = types.StrPtr("PROJ-2")
	if _, err := m.UpsertTask(ctx, task); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if _, err := m.UpsertTask(ctx, &types.Task{ID: "T2", Title: "two", RemoteIssueKey: types.StrPtr("PROJ-1")}); err != nil {
		t.Errorf("PROJ-1 should be free after relink: %v", err)
	}
}

func TestClosedStoreFails(t *testing.T) {
	m := New()
	_ = m.Close()
	if _, err := m.GetTask(context.Background(), "T1"); err == nil {
		t.Error("expected error from closed store")
	}
}
