// Package teststore provides storage test helpers shared by every backend.
//
// New creates an isolated SQLite-backed store per test. Env wraps any
// storage.Storage with task-creation helpers, and RunConformance exercises the
// full storage contract so each backend can prove the same behavior.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    env := teststore.NewEnv(t)
//	    task := env.CreateTask("T1", "fix the widget")
//	    env.MarkSynced(task)
//	}
package teststore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/storage/sqlstore"
	"github.com/storysync/storysync/internal/types"
)

// New creates an isolated SQLite-backed storage.Storage in a temp dir.
// The store is closed automatically when the test completes.
func New(t testing.TB) storage.Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storysync.db")
	store, err := sqlstore.Open(context.Background(), sqlstore.Config{
		Backend:         sqlstore.BackendSQLite,
		DSN:             path,
		RetryMaxElapsed: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("teststore: failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Env provides a test environment with common setup and helpers.
// All operations go through the storage.Storage interface so tests remain
// backend-agnostic.
type Env struct {
	t     testing.TB
	Store storage.Storage
	Ctx   context.Context
}

// NewEnv creates a test environment backed by an isolated SQLite store.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	return WrapEnv(t, New(t))
}

// WrapEnv creates a test environment around an existing store.
func WrapEnv(t testing.TB, store storage.Storage) *Env {
	return &Env{t: t, Store: store, Ctx: context.Background()}
}

// CreateTask creates a todo/medium task with the given id and title.
func (e *Env) CreateTask(id, title string) *types.Task {
	e.t.Helper()
	return e.Upsert(&types.Task{ID: id, Title: title})
}

// CreateLinkedTask creates a task already linked to a remote key.
func (e *Env) CreateLinkedTask(id, title, key string) *types.Task {
	e.t.Helper()
	return e.Upsert(&types.Task{ID: id, Title: title, RemoteIssueKey: types.StrPtr(key)})
}

// Upsert writes task and returns the stored copy.
func (e *Env) Upsert(task *types.Task) *types.Task {
	e.t.Helper()
	stored, err := e.Store.UpsertTask(e.Ctx, task)
	if err != nil {
		e.t.Fatalf("UpsertTask(%q) failed: %v", task.ID, err)
	}
	return stored
}

// MarkSynced stamps the task synced at its own UpdatedAt instant.
func (e *Env) MarkSynced(task *types.Task) *types.Task {
	e.t.Helper()
	c := task.Clone()
	ts := c.UpdatedAt
	c.LastSyncedAt = &ts
	c.SyncStatus = types.SyncStatusSynced
	return e.Upsert(c)
}

// Get loads a task or fails the test.
func (e *Env) Get(id string) *types.Task {
	e.t.Helper()
	task, err := e.Store.GetTask(e.Ctx, id)
	if err != nil {
		e.t.Fatalf("GetTask(%q) failed: %v", id, err)
	}
	return task
}

// SyncLog returns all sync log rows for a task, newest first.
func (e *Env) SyncLog(taskID string) []*types.SyncLogEntry {
	e.t.Helper()
	entries, err := e.Store.ListSyncLog(e.Ctx, types.SyncLogFilter{TaskID: taskID})
	if err != nil {
		e.t.Fatalf("ListSyncLog(%q) failed: %v", taskID, err)
	}
	return entries
}

// TaskIDs returns the ids of tasks in order.
func TaskIDs(tasks []*types.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
