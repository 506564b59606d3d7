// Package storage defines the interface for task ledger storage backends.
//
// Concrete implementations live in the memory and sqlstore sub-packages.
// This package holds the interface and sentinel errors referenced by both
// the implementations and their consumers (sync engine, classifier, CLI).
package storage

import (
	"context"
	"errors"

	"github.com/storysync/storysync/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-set write loses a race, or when
// a remote issue key is already owned by a different task.
var ErrConflict = errors.New("conflict")

// Storage is the interface the sync engine, classifier and aggregator
// consume. Every write is a single-row upsert or insert keyed by a natural
// identifier, so all writes are safe to retry.
type Storage interface {
	// Tasks
	GetTask(ctx context.Context, id string) (*types.Task, error)
	GetTaskByRemoteKey(ctx context.Context, key string) (*types.Task, error)
	// UpsertTask inserts or replaces the task by id, bumps Version and
	// returns the stored copy. A nil RemoteIssueKey keeps the stored key.
	UpsertTask(ctx context.Context, task *types.Task) (*types.Task, error)
	// ClaimRemoteKey assigns key to the task only if the task's Version still
	// equals expectedVersion and no other task owns key. Returns ErrConflict
	// otherwise.
	ClaimRemoteKey(ctx context.Context, taskID, key string, expectedVersion int64) (*types.Task, error)
	// ReserveCreate marks an unlinked task as pending creation, bumping its
	// Version, only if the Version still equals expectedVersion and the task
	// is not already pending. Of several pushers holding the same version
	// exactly one wins; the rest get ErrConflict and must not create a remote
	// issue.
	ReserveCreate(ctx context.Context, taskID string, expectedVersion int64) (*types.Task, error)
	ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error)
	// ListTasksStale returns tasks needing a push. With forceAll every task
	// is returned. A non-empty ids list restricts the result to those ids.
	ListTasksStale(ctx context.Context, forceAll bool, ids []string) ([]*types.Task, error)
	ListTasksByPrefix(ctx context.Context, prefix string) ([]*types.Task, error)

	// Sync audit log
	AppendSyncLog(ctx context.Context, entry *types.SyncLogEntry) error
	ListSyncLog(ctx context.Context, filter types.SyncLogFilter) ([]*types.SyncLogEntry, error)

	// Code change log
	// AppendChangeLogEntry is idempotent on (CommitSHA, FilePath). Returns
	// true when a new row was written.
	AppendChangeLogEntry(ctx context.Context, entry *types.ChangeLogEntry) (bool, error)
	AggregateChangeLogForTask(ctx context.Context, taskID string) ([]*types.ChangeLogEntry, error)
	ListTaskIDsWithChanges(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}

// MatchesFilter reports whether task satisfies filter, ignoring Limit.
// Backends without a query language share it.
func MatchesFilter(task *types.Task, filter types.TaskFilter) bool {
	if len(filter.IDs) > 0 {
		found := false
		for _, id := range filter.IDs {
			if id == task.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Status != nil && task.Status != *filter.Status {
		return false
	}
	if filter.SyncStatus != nil && task.SyncStatus != *filter.SyncStatus {
		return false
	}
	if filter.Epic != "" && task.Epic != filter.Epic {
		return false
	}
	if filter.Retroactive != nil && task.Retroactive != *filter.Retroactive {
		return false
	}
	return true
}

// HasIDPrefix reports whether id is prefix followed by "-" and at least one
// more character.
func HasIDPrefix(id, prefix string) bool {
	return len(id) > len(prefix)+1 && id[:len(prefix)] == prefix && id[len(prefix)] == '-'
}
