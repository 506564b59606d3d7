package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/storysync/storysync/internal/jira"
	"github.com/storysync/storysync/internal/types"
)

// SyncFromJira fetches one issue and writes it into the ledger, remote wins.
// An unknown key creates a task with the key as its id.
func (e *Engine) SyncFromJira(ctx context.Context, issueKey string) (*TaskResult, error) {
	return e.pullIssue(ctx, issueKey, false)
}

// PullIssues pulls each key in turn, remote wins, and folds the attempts into
// one result. Per-issue failures are counted; only cancellation aborts.
func (e *Engine) PullIssues(ctx context.Context, keys []string, dryRun bool) (*SyncResult, error) {
	result := &SyncResult{Success: true, Direction: types.DirectionPull, DryRun: dryRun}
	started := e.clock()
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return e.finish(result, started, err)
		}
		tr, _ := e.pullIssue(ctx, key, dryRun)
		e.collect(result, tr)
	}
	return e.finish(result, started, nil)
}

func (e *Engine) pullIssue(ctx context.Context, issueKey string, dryRun bool) (*TaskResult, error) {
	start := e.clock()
	issue, err := e.Client.GetIssue(ctx, issueKey, e.Mapper.StoryPointsField())
	if err != nil {
		tr := &TaskResult{TaskID: issueKey, RemoteKey: issueKey, Direction: types.DirectionPull, SyncType: types.SyncTypePull, DryRun: dryRun}
		if existing, lerr := e.Store.GetTaskByRemoteKey(ctx, issueKey); lerr == nil {
			tr.TaskID = existing.ID
		}
		fail(tr, err)
		tr.Duration = e.clock().Sub(start)
		e.warn("Failed to pull %s: %v", issueKey, err)
		e.record(ctx, tr, nil)
		return tr, err
	}
	return e.applyIssue(ctx, issue, dryRun, false)
}

// applyIssue overwrites (or creates) the local task from issue. With
// skipUnchanged, an issue untouched since the task's last sync is skipped
// when the task itself is not stale either, since the overwrite would be a
// no-op.
func (e *Engine) applyIssue(ctx context.Context, issue *jira.Issue, dryRun, skipUnchanged bool) (*TaskResult, error) {
	start := e.clock()
	tr := &TaskResult{
		TaskID:    issue.Key,
		RemoteKey: issue.Key,
		Direction: types.DirectionPull,
		SyncType:  types.SyncTypePull,
		State:     AttemptPending,
		DryRun:    dryRun,
	}
	remoteUpdated, terr := jira.ParseTimestamp(issue.Fields.Updated)

	existing, err := e.findLocal(ctx, issue.Key)
	if err != nil {
		fail(tr, err)
		tr.Duration = e.clock().Sub(start)
		e.warn("Failed to pull %s: %v", issue.Key, err)
		e.record(ctx, tr, nil)
		return tr, err
	}

	var task *types.Task
	meta := map[string]any{}
	if existing == nil {
		tr.SyncType = types.SyncTypeCreate
		task = &types.Task{
			ID:          issue.Key,
			Origin:      types.OriginRemote,
			Retroactive: false,
		}
		if created, cerr := jira.ParseTimestamp(issue.Fields.Created); cerr == nil {
			task.CreatedAt = created.UTC()
		}
	} else {
		tr.TaskID = existing.ID
		if skipUnchanged && terr == nil && !existing.IsStale() && !remoteUpdated.After(*existing.LastSyncedAt) {
			tr.State = AttemptSkipped
			return tr, nil
		}
		task = existing.Clone()
		if terr == nil {
			tr.Conflict = withinWindow(remoteUpdated, existing.UpdatedAt, e.conflictWindow())
		}
		meta[types.MetaConflictDetected] = tr.Conflict
		meta[types.MetaConflictResolved] = tr.Conflict
		if tr.Conflict {
			meta[types.MetaResolution] = ResolutionRemoteWins
			e.warn("Conflict on %s (%s): both sides changed within %s, keeping Jira version",
				task.ID, issue.Key, e.conflictWindow())
		}
	}

	if dryRun {
		if tr.SyncType == types.SyncTypeCreate {
			e.msg("[dry-run] Would import: %s - %s", issue.Key, issue.Fields.Summary)
			tr.State = AttemptSynced
			return tr, nil
		}
		applied := task.Clone()
		e.Mapper.ApplyIssue(applied, issue)
		if applied.ContentHash() == task.ContentHash() {
			e.msg("[dry-run] Unchanged: %s matches %s", task.ID, issue.Key)
			tr.State = AttemptSkipped
			return tr, nil
		}
		e.msg("[dry-run] Would overwrite %s from %s", task.ID, issue.Key)
		tr.State = AttemptSynced
		return tr, nil
	}

	tr.State = AttemptInFlight
	e.Mapper.ApplyIssue(task, issue)
	if task.Title == "" {
		// Jira requires a summary; guard against partial payloads.
		task.Title = issue.Key
	}
	_, err = e.markSynced(ctx, task)
	tr.Duration = e.clock().Sub(start)
	if err != nil {
		err = fmt.Errorf("store %s: %w", issue.Key, err)
		fail(tr, err)
		e.warn("Failed to pull %s: %v", issue.Key, err)
		if existing != nil {
			e.markError(ctx, existing)
		}
	} else {
		tr.State = AttemptSynced
	}
	e.record(ctx, tr, meta)
	return tr, tr.Err
}

// findLocal returns the task linked to key. A task whose id equals key and
// that has no link yet is adopted. Returns nil when neither exists.
func (e *Engine) findLocal(ctx context.Context, key string) (*types.Task, error) {
	task, err := e.Store.GetTaskByRemoteKey(ctx, key)
	if err == nil {
		return task, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	task, err = e.Store.GetTask(ctx, key)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	if other := task.RemoteKey(); other != "" && other != key {
		return nil, fmt.Errorf("task %s is already linked to %s", key, other)
	}
	return task, nil
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < window
}
