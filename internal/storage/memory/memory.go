// Package memory implements the storage interface in process memory. It backs
// tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/types"
)

// MemoryStorage is a mutex-guarded in-memory Storage. All returned values are
// deep copies, so callers can mutate them freely.
type MemoryStorage struct {
	mu sync.RWMutex

	tasks     map[string]*types.Task
	remoteIdx map[string]string // remote key -> task id
	syncLog   []*types.SyncLogEntry
	changes   []*types.ChangeLogEntry
	changeIdx map[string]bool // ChangeLogEntry.Key()

	now    func() time.Time
	closed bool
}

var _ storage.Storage = (*MemoryStorage)(nil)

// New creates an empty in-memory store.
func New() *MemoryStorage {
	return &MemoryStorage{
		tasks:     make(map[string]*types.Task),
		remoteIdx: make(map[string]string),
		changeIdx: make(map[string]bool),
		now:       time.Now,
	}
}

// SetClock overrides the clock used for CreatedAt defaults. Test helper.
func (m *MemoryStorage) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStorage) checkOpen() error {
	if m.closed {
		return fmt.Errorf("memory store is closed")
	}
	return nil
}

// GetTask retrieves a task by id.
func (m *MemoryStorage) GetTask(ctx context.Context, id string) (*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return t.Clone(), nil
}

// GetTaskByRemoteKey retrieves the task that owns the given remote key.
func (m *MemoryStorage) GetTaskByRemoteKey(ctx context.Context, key string) (*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	id, ok := m.remoteIdx[key]
	if !ok {
		return nil, fmt.Errorf("remote key %s: %w", key, storage.ErrNotFound)
	}
	return m.tasks[id].Clone(), nil
}

// UpsertTask inserts or replaces a task by id.
func (m *MemoryStorage) UpsertTask(ctx context.Context, task *types.Task) (*types.Task, error) {
	if task == nil {
		return nil, fmt.Errorf("task is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	t := task.Clone()
	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("validate task %s: %w", t.ID, err)
	}

	if key := t.RemoteKey(); key != "" {
		if owner, ok := m.remoteIdx[key]; ok && owner != t.ID {
			return nil, fmt.Errorf("remote key %s already owned by %s: %w", key, owner, storage.ErrConflict)
		}
	}

	now := m.now().UTC()
	prev, exists := m.tasks[t.ID]
	if exists {
		t.CreatedAt = prev.CreatedAt
		if t.RemoteIssueKey == nil && prev.RemoteIssueKey != nil {
			// Upsert never unlinks a claimed key.
			t.RemoteIssueKey = types.StrPtr(*prev.RemoteIssueKey)
		}
		t.Version = prev.Version + 1
		if prevKey := prev.RemoteKey(); prevKey != "" && prevKey != t.RemoteKey() {
			delete(m.remoteIdx, prevKey)
		}
	} else {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.Version = 1
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	m.tasks[t.ID] = t
	if key := t.RemoteKey(); key != "" {
		m.remoteIdx[key] = t.ID
	}
	return t.Clone(), nil
}

// ClaimRemoteKey assigns key to the task if its version still matches.
func (m *MemoryStorage) ClaimRemoteKey(ctx context.Context, taskID, key string, expectedVersion int64) (*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound)
	}
	if t.Version != expectedVersion {
		return nil, fmt.Errorf("claim %s for %s: version %d != %d: %w", key, taskID, t.Version, expectedVersion, storage.ErrConflict)
	}
	if cur := t.RemoteKey(); cur != "" && cur != key {
		return nil, fmt.Errorf("task %s already linked to %s: %w", taskID, cur, storage.ErrConflict)
	}
	if owner, ok := m.remoteIdx[key]; ok && owner != taskID {
		return nil, fmt.Errorf("remote key %s already owned by %s: %w", key, owner, storage.ErrConflict)
	}

	t.RemoteIssueKey = types.StrPtr(key)
	t.Version++
	m.remoteIdx[key] = taskID
	return t.Clone(), nil
}

// ReserveCreate marks an unlinked task pending if its version still matches.
func (m *MemoryStorage) ReserveCreate(ctx context.Context, taskID string, expectedVersion int64) (*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound)
	}
	if t.Version != expectedVersion {
		return nil, fmt.Errorf("reserve %s: version %d != %d: %w", taskID, t.Version, expectedVersion, storage.ErrConflict)
	}
	if cur := t.RemoteKey(); cur != "" {
		return nil, fmt.Errorf("task %s already linked to %s: %w", taskID, cur, storage.ErrConflict)
	}
	if t.SyncStatus == types.SyncStatusPending {
		return nil, fmt.Errorf("task %s already reserved: %w", taskID, storage.ErrConflict)
	}

	t.SyncStatus = types.SyncStatusPending
	t.Version++
	return t.Clone(), nil
}

// ListTasks returns tasks matching filter, ordered by id.
func (m *MemoryStorage) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	out := m.collect(func(t *types.Task) bool { return storage.MatchesFilter(t, filter) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListTasksStale returns tasks never synced or changed since their last sync.
func (m *MemoryStorage) ListTasksStale(ctx context.Context, forceAll bool, ids []string) ([]*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	filter := types.TaskFilter{IDs: ids}
	return m.collect(func(t *types.Task) bool {
		if !storage.MatchesFilter(t, filter) {
			return false
		}
		return forceAll || t.IsStale()
	}), nil
}

// ListTasksByPrefix returns tasks whose id starts with prefix followed by "-".
func (m *MemoryStorage) ListTasksByPrefix(ctx context.Context, prefix string) ([]*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return m.collect(func(t *types.Task) bool { return storage.HasIDPrefix(t.ID, prefix) }), nil
}

// collect must be called with m.mu held.
func (m *MemoryStorage) collect(keep func(*types.Task) bool) []*types.Task {
	var out []*types.Task
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AppendSyncLog appends an audit row. ID and CreatedAt are filled if empty.
func (m *MemoryStorage) AppendSyncLog(ctx context.Context, entry *types.SyncLogEntry) error {
	if entry == nil {
		return fmt.Errorf("sync log entry is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now().UTC()
	}
	e := *entry
	if entry.Metadata != nil {
		e.Metadata = make(map[string]any, len(entry.Metadata))
		for k, v := range entry.Metadata {
			e.Metadata[k] = v
		}
	}
	m.syncLog = append(m.syncLog, &e)
	return nil
}

// ListSyncLog returns audit rows, newest first.
func (m *MemoryStorage) ListSyncLog(ctx context.Context, filter types.SyncLogFilter) ([]*types.SyncLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	var out []*types.SyncLogEntry
	for i := len(m.syncLog) - 1; i >= 0; i-- {
		e := m.syncLog[i]
		if filter.TaskID != "" && e.TaskID != filter.TaskID {
			continue
		}
		if filter.Outcome != "" && e.Outcome != filter.Outcome {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		c := *e
		out = append(out, &c)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// AppendChangeLogEntry writes the entry unless (CommitSHA, FilePath) exists.
func (m *MemoryStorage) AppendChangeLogEntry(ctx context.Context, entry *types.ChangeLogEntry) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("change log entry is nil")
	}
	if strings.TrimSpace(entry.CommitSHA) == "" || entry.FilePath == "" {
		return false, fmt.Errorf("change log entry requires commit sha and file path")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	key := entry.Key()
	if m.changeIdx[key] {
		return false, nil
	}
	e := *entry
	m.changes = append(m.changes, &e)
	m.changeIdx[key] = true
	return true, nil
}

// AggregateChangeLogForTask returns the task's change log rows in insertion order.
func (m *MemoryStorage) AggregateChangeLogForTask(ctx context.Context, taskID string) ([]*types.ChangeLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	var out []*types.ChangeLogEntry
	for _, e := range m.changes {
		if e.TaskID == taskID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// ListTaskIDsWithChanges returns the sorted distinct task ids in the change log.
func (m *MemoryStorage) ListTaskIDsWithChanges(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range m.changes {
		if !seen[e.TaskID] {
			seen[e.TaskID] = true
			ids = append(ids, e.TaskID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close marks the store closed. Further calls fail.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
