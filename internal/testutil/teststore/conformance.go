package teststore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/types"
)

// RunConformance runs the storage contract against stores built by newStore.
// Each subtest gets a fresh store.
func RunConformance(t *testing.T, newStore func(t testing.TB) storage.Storage) {
	t.Run("GetTaskNotFound", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		_, err := env.Store.GetTask(env.Ctx, "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "want ErrNotFound, got %v", err)

		_, err = env.Store.GetTaskByRemoteKey(env.Ctx, "PROJ-404")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "want ErrNotFound, got %v", err)
	})

	t.Run("UpsertBumpsVersion", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		first := env.Upsert(&types.Task{ID: "T1", Title: "first", StoryPoints: types.IntPtr(3)})
		assert.Equal(t, int64(1), first.Version)
		assert.Equal(t, types.StatusTodo, first.Status)
		assert.Equal(t, types.SyncStatusUnsynced, first.SyncStatus)

		first.Title = "second"
		second := env.Upsert(first)
		assert.Equal(t, int64(2), second.Version)
		assert.True(t, second.CreatedAt.Equal(first.CreatedAt))

		got := env.Get("T1")
		assert.Equal(t, "second", got.Title)
		require.NotNil(t, got.StoryPoints)
		assert.Equal(t, 3, *got.StoryPoints)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("UpsertRejectsInvalid", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		_, err := env.Store.UpsertTask(env.Ctx, &types.Task{ID: "T1"})
		assert.Error(t, err)
	})

	t.Run("RoundTripsAllFields", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		synced := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
		env.Upsert(&types.Task{
			ID:                 "fw-retro-001",
			Title:              "Retro task",
			Description:        "desc",
			AcceptanceCriteria: "ac",
			TechnicalNotes:     "notes",
			Status:             types.StatusInReview,
			Priority:           types.PriorityHigh,
			Epic:               "framework",
			RemoteIssueKey:     types.StrPtr("PROJ-9"),
			SyncStatus:         types.SyncStatusSynced,
			LastSyncedAt:       &synced,
			Retroactive:        true,
			RelatedFiles:       []string{"a.go", "b.go"},
			CommitSHAs:         []string{"abc"},
			DominantBranch:     "main",
			FilesModified:      2,
			LinesAdded:         10,
			LinesRemoved:       4,
			UpdatedAt:          synced,
		})

		got := env.Get("fw-retro-001")
		assert.Equal(t, types.StatusInReview, got.Status)
		assert.Equal(t, types.PriorityHigh, got.Priority)
		assert.Equal(t, "PROJ-9", got.RemoteKey())
		assert.Equal(t, types.OriginRetro, got.Origin)
		assert.True(t, got.Retroactive)
		require.NotNil(t, got.LastSyncedAt)
		assert.True(t, got.LastSyncedAt.Equal(synced))
		assert.Equal(t, []string{"a.go", "b.go"}, got.RelatedFiles)
		assert.Equal(t, []string{"abc"}, got.CommitSHAs)
		assert.Equal(t, 10, got.LinesAdded)

		byKey, err := env.Store.GetTaskByRemoteKey(env.Ctx, "PROJ-9")
		require.NoError(t, err)
		assert.Equal(t, "fw-retro-001", byKey.ID)
	})

	t.Run("UpsertRejectsForeignRemoteKey", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		env.CreateLinkedTask("T1", "one", "PROJ-1")
		_, err := env.Store.UpsertTask(env.Ctx, &types.Task{ID: "T2", Title: "two", RemoteIssueKey: types.StrPtr("PROJ-1")})
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrConflict), "want ErrConflict, got %v", err)
	})

	t.Run("ClaimRemoteKey", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		task := env.CreateTask("T1", "one")

		claimed, err := env.Store.ClaimRemoteKey(env.Ctx, "T1", "PROJ-1", task.Version)
		require.NoError(t, err)
		assert.Equal(t, "PROJ-1", claimed.RemoteKey())
		assert.Equal(t, task.Version+1, claimed.Version)

		// Stale version loses
		_, err = env.Store.ClaimRemoteKey(env.Ctx, "T1", "PROJ-2", task.Version)
		assert.True(t, errors.Is(err, storage.ErrConflict), "want ErrConflict, got %v", err)

		// Key owned by another task
		other := env.CreateTask("T2", "two")
		_, err = env.Store.ClaimRemoteKey(env.Ctx, "T2", "PROJ-1", other.Version)
		assert.True(t, errors.Is(err, storage.ErrConflict), "want ErrConflict, got %v", err)

		_, err = env.Store.ClaimRemoteKey(env.Ctx, "missing", "PROJ-3", 1)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "want ErrNotFound, got %v", err)
	})

	t.Run("ReserveCreate", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		task := env.CreateTask("T1", "one")

		reserved, err := env.Store.ReserveCreate(env.Ctx, "T1", task.Version)
		require.NoError(t, err)
		assert.Equal(t, types.SyncStatusPending, reserved.SyncStatus)
		assert.Equal(t, task.Version+1, reserved.Version)
		assert.Equal(t, "", reserved.RemoteKey())

		// Stale version loses
		_, err = env.Store.ReserveCreate(env.Ctx, "T1", task.Version)
		assert.True(t, errors.Is(err, storage.ErrConflict), "want ErrConflict, got %v", err)
		// A pending task cannot be reserved again, even at its current version
		_, err = env.Store.ReserveCreate(env.Ctx, "T1", reserved.Version)
		assert.True(t, errors.Is(err, storage.ErrConflict), "want ErrConflict, got %v", err)

		claimed, err := env.Store.ClaimRemoteKey(env.Ctx, "T1", "PROJ-1", reserved.Version)
		require.NoError(t, err)
		assert.Equal(t, "PROJ-1", claimed.RemoteKey())

		linked := env.CreateLinkedTask("T2", "two", "PROJ-2")
		_, err = env.Store.ReserveCreate(env.Ctx, "T2", linked.Version)
		assert.True(t, errors.Is(err, storage.ErrConflict), "linked task: want ErrConflict, got %v", err)

		_, err = env.Store.ReserveCreate(env.Ctx, "missing", 1)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "want ErrNotFound, got %v", err)
	})

	t.Run("ReserveCreateConcurrent", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		task := env.CreateTask("T1", "one")

		const workers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.Store.ReserveCreate(env.Ctx, "T1", task.Version)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case !errors.Is(err, storage.ErrConflict):
					t.Errorf("unexpected reserve error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ClaimRemoteKeyConcurrent", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		task := env.CreateTask("T1", "one")

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := "PROJ-" + string(rune('A'+i))
				_, err := env.Store.ClaimRemoteKey(env.Ctx, "T1", key, task.Version)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, storage.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected claim error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, workers-1, conflicts)
	})

	t.Run("ListTasksStale", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		later := now.Add(time.Minute)
		earlier := now.Add(-time.Minute)

		env.Upsert(&types.Task{ID: "never", Title: "never synced", UpdatedAt: now})
		env.Upsert(&types.Task{ID: "fresh", Title: "synced after update", UpdatedAt: now, LastSyncedAt: &later})
		env.Upsert(&types.Task{ID: "same", Title: "synced at update", UpdatedAt: now, LastSyncedAt: &now})
		env.Upsert(&types.Task{ID: "stale", Title: "updated after sync", UpdatedAt: now, LastSyncedAt: &earlier})

		stale, err := env.Store.ListTasksStale(env.Ctx, false, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"never", "stale"}, TaskIDs(stale))

		all, err := env.Store.ListTasksStale(env.Ctx, true, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"fresh", "never", "same", "stale"}, TaskIDs(all))

		subset, err := env.Store.ListTasksStale(env.Ctx, false, []string{"fresh", "stale"})
		require.NoError(t, err)
		assert.Equal(t, []string{"stale"}, TaskIDs(subset))

		forced, err := env.Store.ListTasksStale(env.Ctx, true, []string{"fresh"})
		require.NoError(t, err)
		assert.Equal(t, []string{"fresh"}, TaskIDs(forced))
	})

	t.Run("ListTasksFilter", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		env.Upsert(&types.Task{ID: "a", Title: "a", Epic: "infra"})
		env.Upsert(&types.Task{ID: "b", Title: "b", Epic: "infra", Retroactive: true})
		env.Upsert(&types.Task{ID: "c", Title: "c", Epic: "docs", Status: types.StatusDone})

		retro := true
		got, err := env.Store.ListTasks(env.Ctx, types.TaskFilter{Epic: "infra", Retroactive: &retro})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, TaskIDs(got))

		done := types.StatusDone
		got, err = env.Store.ListTasks(env.Ctx, types.TaskFilter{Status: &done})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, TaskIDs(got))

		got, err = env.Store.ListTasks(env.Ctx, types.TaskFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, TaskIDs(got))
	})

	t.Run("ListTasksByPrefix", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		for _, id := range []string{"fw-retro-001", "fw-retro-002", "fw-retro-003", "fw-retrofit-001", "be-retro-001", "fw-retro"} {
			env.CreateTask(id, id)
		}
		got, err := env.Store.ListTasksByPrefix(env.Ctx, "fw-retro")
		require.NoError(t, err)
		assert.Equal(t, []string{"fw-retro-001", "fw-retro-002", "fw-retro-003"}, TaskIDs(got))
	})

	t.Run("SyncLog", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		errMsg := "boom"
		require.NoError(t, env.Store.AppendSyncLog(env.Ctx, &types.SyncLogEntry{
			TaskID: "T1", SyncType: types.SyncTypeCreate, Direction: types.DirectionPush,
			Outcome: types.OutcomeError, Error: &errMsg, Duration: 1500 * time.Millisecond,
			CreatedAt: base,
		}))
		entry := &types.SyncLogEntry{
			TaskID: "T1", RemoteIssueKey: types.StrPtr("PROJ-1"),
			SyncType: types.SyncTypePull, Direction: types.DirectionPull, Outcome: types.OutcomeSuccess,
			Metadata:  map[string]any{types.MetaConflictDetected: true, types.MetaResolution: "remote-wins"},
			CreatedAt: base.Add(time.Second),
		}
		require.NoError(t, env.Store.AppendSyncLog(env.Ctx, entry))
		assert.NotEmpty(t, entry.ID, "AppendSyncLog should assign an id")
		require.NoError(t, env.Store.AppendSyncLog(env.Ctx, &types.SyncLogEntry{
			TaskID: "T2", SyncType: types.SyncTypeUpdate, Direction: types.DirectionPush,
			Outcome: types.OutcomeSuccess, CreatedAt: base.Add(2 * time.Second),
		}))

		rows := env.SyncLog("T1")
		require.Len(t, rows, 2)
		assert.Equal(t, types.SyncTypePull, rows[0].SyncType, "newest first")
		assert.Equal(t, true, rows[0].Metadata[types.MetaConflictDetected])
		assert.Equal(t, "remote-wins", rows[0].Metadata[types.MetaResolution])
		assert.Equal(t, "PROJ-1", *rows[0].RemoteIssueKey)
		require.NotNil(t, rows[1].Error)
		assert.Equal(t, "boom", *rows[1].Error)
		assert.Equal(t, 1500*time.Millisecond, rows[1].Duration)

		failed, err := env.Store.ListSyncLog(env.Ctx, types.SyncLogFilter{Outcome: types.OutcomeError})
		require.NoError(t, err)
		assert.Len(t, failed, 1)

		since := base.Add(time.Second)
		recent, err := env.Store.ListSyncLog(env.Ctx, types.SyncLogFilter{Since: &since, Limit: 1})
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "T2", recent[0].TaskID)
	})

	t.Run("ChangeLogIdempotent", func(t *testing.T) {
		env := WrapEnv(t, newStore(t))
		at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
		entry := &types.ChangeLogEntry{
			TaskID: "T1", FilePath: "cmd/main.go", ChangeType: types.ChangeModified,
			LinesAdded: 5, LinesRemoved: 1, CommitSHA: "abc123", CommitMessage: "fix",
			Branch: "main", Author: "dev", CommittedAt: at,
		}
		inserted, err := env.Store.AppendChangeLogEntry(env.Ctx, entry)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = env.Store.AppendChangeLogEntry(env.Ctx, entry)
		require.NoError(t, err)
		assert.False(t, inserted, "same (sha, path) must not insert twice")

		second := *entry
		second.FilePath = "README.md"
		second.ChangeType = types.ChangeAdded
		_, err = env.Store.AppendChangeLogEntry(env.Ctx, &second)
		require.NoError(t, err)

		other := *entry
		other.TaskID = "T2"
		other.CommitSHA = "def456"
		_, err = env.Store.AppendChangeLogEntry(env.Ctx, &other)
		require.NoError(t, err)

		rows, err := env.Store.AggregateChangeLogForTask(env.Ctx, "T1")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, r := range rows {
			assert.True(t, r.CommittedAt.Equal(at))
		}

		ids, err := env.Store.ListTaskIDsWithChanges(env.Ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"T1", "T2"}, ids)

		_, err = env.Store.AppendChangeLogEntry(env.Ctx, &types.ChangeLogEntry{TaskID: "T1", FilePath: "x"})
		assert.Error(t, err, "entry without sha must be rejected")
	})
}
