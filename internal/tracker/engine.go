package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/jira"
	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/types"
)

// Engine orchestrates synchronization between the task ledger and Jira.
// One Engine serializes its own remote calls; run independent engines for
// concurrent runs.
type Engine struct {
	Client  IssueClient
	Store   storage.Storage
	Mapper  *jira.FieldMapper
	Project string

	// ConflictWindow overrides DefaultConflictWindow when positive.
	ConflictWindow time.Duration

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)

	now func() time.Time
}

// NewEngine creates a sync engine for the given client, storage and project.
func NewEngine(client IssueClient, store storage.Storage, mapper *jira.FieldMapper, project string) *Engine {
	if mapper == nil {
		mapper = jira.DefaultFieldMapper()
	}
	return &Engine{
		Client:  client,
		Store:   store,
		Mapper:  mapper,
		Project: project,
		now:     time.Now,
	}
}

// SetClock overrides the engine clock. Test helper.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now().UTC()
	}
	return e.now().UTC()
}

func (e *Engine) conflictWindow() time.Duration {
	if e.ConflictWindow > 0 {
		return e.ConflictWindow
	}
	return DefaultConflictWindow
}

// SyncAll runs a push, a pull, or both (push first) according to opts.
// Per-record failures are counted and never abort the run. When ctx is
// cancelled the partial result is returned together with ctx.Err().
func (e *Engine) SyncAll(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	dir := opts.Direction
	if dir == "" {
		dir = types.DirectionBidirectional
	}
	if !dir.IsValid() {
		return nil, fmt.Errorf("invalid sync direction %q", dir)
	}
	result := &SyncResult{Success: true, Direction: dir, DryRun: opts.DryRun}
	started := e.clock()

	if dir == types.DirectionPush || dir == types.DirectionBidirectional {
		if err := e.pushAll(ctx, opts, result); err != nil {
			return e.finish(result, started, err)
		}
	}
	if dir == types.DirectionPull || dir == types.DirectionBidirectional {
		if err := e.pullAll(ctx, opts, result); err != nil {
			return e.finish(result, started, err)
		}
	}
	return e.finish(result, started, nil)
}

func (e *Engine) finish(result *SyncResult, started time.Time, err error) (*SyncResult, error) {
	if result.Stats.Failed > 0 || err != nil {
		result.Success = false
	}
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}
	result.LastSync = started.Format(time.RFC3339)
	debug.Logf("sync %s finished: %+v", result.Direction, result.Stats)
	return result, err
}

// pushAll pushes explicit task ids, or every stale task (every task when
// forced). Only listing failures and cancellation are returned as errors.
func (e *Engine) pushAll(ctx context.Context, opts SyncOptions, result *SyncResult) error {
	if len(opts.TaskIDs) > 0 {
		for _, id := range opts.TaskIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			tr, _ := e.syncToJira(ctx, id, opts)
			e.collect(result, tr)
		}
		return nil
	}

	tasks, err := e.Store.ListTasksStale(ctx, opts.Force, nil)
	if err != nil {
		return fmt.Errorf("listing tasks to push: %w", err)
	}
	e.msg("Pushing %d task(s) to Jira", len(tasks))
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		tr, _ := e.pushTask(ctx, task, opts)
		e.collect(result, tr)
	}
	return nil
}

// pullAll runs the bounded pull query and applies each issue. A failed
// search is reported as a warning; the run still completes.
func (e *Engine) pullAll(ctx context.Context, opts SyncOptions, result *SyncResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	limit := opts.PullLimit
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	jql := PullJQL(e.Project, opts.Since)
	issues, err := e.Client.Search(ctx, jql, limit, e.Mapper.StoryPointsField())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.warn("Pull query failed: %v", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("pull query failed: %v", err))
		result.Success = false
		return nil
	}
	e.msg("Fetched %d issue(s) from Jira", len(issues))

	for i := range issues {
		if err := ctx.Err(); err != nil {
			return err
		}
		tr, _ := e.applyIssue(ctx, &issues[i], opts.DryRun, true)
		e.collect(result, tr)
	}
	return nil
}

func (e *Engine) collect(result *SyncResult, tr *TaskResult) {
	result.add(tr)
	if tr.TransitionWarning != "" {
		result.Warnings = append(result.Warnings, tr.TransitionWarning)
	}
}

// PullJQL builds the pull query for project, newest first.
func PullJQL(project string, since *time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "project = %s", project)
	if since != nil {
		fmt.Fprintf(&b, " AND updated >= %q", jira.FormatJQLTime(*since))
	}
	b.WriteString(" ORDER BY updated DESC")
	return b.String()
}

// record appends the single sync log row for an attempt. A failed append is
// a warning; the attempt outcome stands.
func (e *Engine) record(ctx context.Context, tr *TaskResult, meta map[string]any) {
	if tr.DryRun || tr.State == AttemptSkipped {
		return
	}
	entry := &types.SyncLogEntry{
		TaskID:    tr.TaskID,
		SyncType:  tr.SyncType,
		Direction: tr.Direction,
		Outcome:   types.OutcomeSuccess,
		Duration:  tr.Duration,
		Metadata:  meta,
	}
	if tr.RemoteKey != "" {
		entry.RemoteIssueKey = types.StrPtr(tr.RemoteKey)
	}
	if tr.State == AttemptError {
		entry.Outcome = types.OutcomeError
		entry.Error = types.StrPtr(tr.Error)
	}
	if err := e.Store.AppendSyncLog(ctx, entry); err != nil {
		e.warn("Failed to append sync log for %s: %v", tr.TaskID, err)
	}
}

// fail moves the attempt to the error state.
func fail(tr *TaskResult, err error) {
	tr.State = AttemptError
	tr.Err = err
	tr.Error = err.Error()
}

// markError stamps SyncStatus=error on the stored task without touching
// UpdatedAt, so the task stays stale and is retried next run.
func (e *Engine) markError(ctx context.Context, task *types.Task) {
	if task == nil {
		return
	}
	t := task.Clone()
	t.SyncStatus = types.SyncStatusError
	if _, err := e.Store.UpsertTask(ctx, t); err != nil {
		e.warn("Failed to mark %s as errored: %v", t.ID, err)
	}
}

// markSynced stamps SyncStatus=synced with LastSyncedAt and UpdatedAt set to
// the same instant, so the stale filter excludes the task.
func (e *Engine) markSynced(ctx context.Context, task *types.Task) (*types.Task, error) {
	now := e.clock()
	task.SyncStatus = types.SyncStatusSynced
	task.LastSyncedAt = &now
	task.UpdatedAt = now
	return e.Store.UpsertTask(ctx, task)
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func (e *Engine) msg(format string, args ...interface{}) {
	if e.OnMessage != nil {
		e.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) warn(format string, args ...interface{}) {
	if e.OnWarning != nil {
		e.OnWarning(fmt.Sprintf(format, args...))
	}
}
