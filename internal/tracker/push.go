package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/storysync/storysync/internal/jira"
	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/types"
)

// SyncToJira pushes one task. A task without a remote key gets exactly one
// issue created and the key claimed; a keyed task is updated and, when its
// status maps to a different remote status, transitioned. The returned error
// mirrors the attempt outcome.
func (e *Engine) SyncToJira(ctx context.Context, taskID string) (*TaskResult, error) {
	return e.syncToJira(ctx, taskID, SyncOptions{})
}

func (e *Engine) syncToJira(ctx context.Context, taskID string, opts SyncOptions) (*TaskResult, error) {
	task, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		tr := &TaskResult{TaskID: taskID, Direction: types.DirectionPush, SyncType: types.SyncTypeUpdate, DryRun: opts.DryRun}
		fail(tr, fmt.Errorf("load task %s: %w", taskID, err))
		e.warn("Failed to push %s: %v", taskID, tr.Err)
		e.record(ctx, tr, nil)
		return tr, tr.Err
	}
	return e.pushTask(ctx, task, opts)
}

// pushTask runs one push attempt: pending, in-flight, then synced or error.
// Only DryRun and Force are read from opts.
func (e *Engine) pushTask(ctx context.Context, task *types.Task, opts SyncOptions) (*TaskResult, error) {
	dryRun := opts.DryRun
	start := e.clock()
	tr := &TaskResult{
		TaskID:    task.ID,
		RemoteKey: task.RemoteKey(),
		Direction: types.DirectionPush,
		SyncType:  types.SyncTypeUpdate,
		State:     AttemptPending,
		DryRun:    dryRun,
	}
	if tr.RemoteKey == "" {
		tr.SyncType = types.SyncTypeCreate
	}

	if dryRun {
		if tr.SyncType == types.SyncTypeCreate {
			e.msg("[dry-run] Would create in Jira: %s - %s", task.ID, task.Title)
		} else {
			e.msg("[dry-run] Would update %s: %s - %s", tr.RemoteKey, task.ID, task.Title)
		}
		tr.State = AttemptSynced
		return tr, nil
	}

	tr.State = AttemptInFlight
	meta := map[string]any{}
	var current *types.Task
	var err error
	if tr.SyncType == types.SyncTypeCreate {
		current, err = e.createRemote(ctx, task, opts.Force, tr, meta)
	} else {
		current, err = e.updateRemote(ctx, task, tr, meta)
	}

	if err == nil {
		if _, serr := e.markSynced(ctx, current.Clone()); serr != nil {
			err = fmt.Errorf("persist sync state: %w", serr)
		}
	}
	tr.Duration = e.clock().Sub(start)
	if err != nil {
		fail(tr, err)
		e.warn("Failed to push %s: %v", task.ID, err)
		e.markError(ctx, current)
	} else {
		tr.State = AttemptSynced
		if tr.SyncType == types.SyncTypeCreate {
			e.msg("Created %s for %s", tr.RemoteKey, task.ID)
		} else {
			e.msg("Updated %s from %s", tr.RemoteKey, task.ID)
		}
	}
	if len(meta) == 0 {
		meta = nil
	}
	e.record(ctx, tr, meta)
	return tr, tr.Err
}

// createRemote reserves the task, creates the issue and claims its key. Both
// the reservation and the claim are compare-and-sets on the task version, so
// of two pushers holding the same version only one reaches CreateIssue. The
// returned task is the one to stamp afterwards. It is nil when another writer
// won, or when the task must stay pending, so its state is left alone.
//
// A task found pending was reserved by a push that is still running or died
// mid-create; only force releases it.
func (e *Engine) createRemote(ctx context.Context, task *types.Task, force bool, tr *TaskResult, meta map[string]any) (*types.Task, error) {
	if task.SyncStatus == types.SyncStatusPending {
		if !force {
			return nil, fmt.Errorf("%w: check %s for an issue created from %s, then push it with --force",
				ErrCreatePending, e.Project, task.ID)
		}
		released := task.Clone()
		released.SyncStatus = types.SyncStatusError
		var err error
		if task, err = e.Store.UpsertTask(ctx, released); err != nil {
			return nil, fmt.Errorf("release pending %s: %w", released.ID, err)
		}
	}

	reserved, err := e.Store.ReserveCreate(ctx, task.ID, task.Version)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("task %s is being pushed concurrently: %w", task.ID, err)
		}
		return task, fmt.Errorf("reserve %s: %w", task.ID, err)
	}

	issue, err := e.Client.CreateIssue(ctx, jira.IssueSpec{
		Project: e.Project,
		Summary: reserved.Title,
		Fields:  e.Mapper.TaskFields(reserved),
	})
	if err != nil {
		if createMayHaveLanded(err) {
			return nil, fmt.Errorf("%w: %w", ErrCreatePending, err)
		}
		return reserved, err
	}
	tr.RemoteKey = issue.Key

	claimed, err := e.Store.ClaimRemoteKey(ctx, task.ID, issue.Key, reserved.Version)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("created %s but task %s was claimed concurrently: %w", issue.Key, task.ID, err)
		}
		return reserved, fmt.Errorf("claim %s: %w", issue.Key, err)
	}

	// New issues start in the workflow's initial status.
	initial := e.Mapper.StatusToRemote(types.StatusTodo)
	if err := e.transition(ctx, claimed, initial, tr, meta); err != nil {
		return claimed, err
	}
	return claimed, nil
}

// createMayHaveLanded reports whether a failed create may still have made the
// issue: the request was sent but the reply was lost or was a server error.
func createMayHaveLanded(err error) bool {
	var rerr *jira.RemoteError
	if !errors.As(err, &rerr) {
		return false
	}
	return rerr.StatusCode == 0 || rerr.StatusCode >= 500
}

// updateRemote writes the mapped fields, then moves the status through a
// transition when it differs from the issue's current status.
func (e *Engine) updateRemote(ctx context.Context, task *types.Task, tr *TaskResult, meta map[string]any) (*types.Task, error) {
	key := task.RemoteKey()
	issue, err := e.Client.GetIssue(ctx, key)
	if err != nil {
		return task, err
	}
	if err := e.Client.UpdateIssue(ctx, key, e.Mapper.TaskFields(task)); err != nil {
		return task, err
	}
	if err := e.transition(ctx, task, issue.StatusName(), tr, meta); err != nil {
		return task, err
	}
	return task, nil
}

// transition moves the issue to the task's mapped status unless it is
// already there. A missing transition is a warning, not a failure.
func (e *Engine) transition(ctx context.Context, task *types.Task, remoteStatus string, tr *TaskResult, meta map[string]any) error {
	target := e.Mapper.StatusToRemote(task.Status)
	if e.Mapper.StatusFromRemote(remoteStatus) == e.Mapper.StatusFromRemote(target) {
		return nil
	}
	applied, err := e.Client.TransitionTo(ctx, task.RemoteKey(), target)
	var notFound *jira.TransitionNotFoundError
	switch {
	case errors.As(err, &notFound):
		tr.TransitionWarning = notFound.Error()
		meta[types.MetaTransitionWarning] = notFound.Error()
		e.warn("%s: status left unchanged: %v", task.ID, notFound)
		return nil
	case err != nil:
		return err
	}
	tr.Transition = applied.Name
	meta[types.MetaTransition] = applied.Name
	return nil
}
