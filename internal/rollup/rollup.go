// Package rollup recomputes per-task metrics from the code change log.
//
// A rollup is a full overwrite derived only from the log, so recomputing is
// always safe and always yields the same values for the same log.
package rollup

import (
	"context"
	"fmt"
	"sort"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/types"
)

// Rollup is the aggregate of one task's change log.
type Rollup struct {
	TaskID         string   `json:"task_id"`
	Files          []string `json:"files"`
	SHAs           []string `json:"shas"`
	LinesAdded     int      `json:"lines_added"`
	LinesRemoved   int      `json:"lines_removed"`
	DominantBranch string   `json:"dominant_branch,omitempty"`
}

// CommitCount returns the number of distinct commits.
func (r *Rollup) CommitCount() int { return len(r.SHAs) }

// Compute aggregates entries. Entries are ordered by (CommittedAt, SHA,
// FilePath) first so the result does not depend on storage order. The
// dominant branch is the most frequent non-empty branch; ties go to the one
// seen first in that order.
func Compute(taskID string, entries []*types.ChangeLogEntry) Rollup {
	sorted := make([]*types.ChangeLogEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CommittedAt.Equal(b.CommittedAt) {
			return a.CommittedAt.Before(b.CommittedAt)
		}
		if a.CommitSHA != b.CommitSHA {
			return a.CommitSHA < b.CommitSHA
		}
		return a.FilePath < b.FilePath
	})

	r := Rollup{TaskID: taskID, Files: []string{}, SHAs: []string{}}
	files := make(map[string]bool)
	shas := make(map[string]bool)
	branchCount := make(map[string]int)
	var branchOrder []string
	for _, e := range sorted {
		if e.FilePath != "" && !files[e.FilePath] {
			files[e.FilePath] = true
			r.Files = append(r.Files, e.FilePath)
		}
		if e.CommitSHA != "" && !shas[e.CommitSHA] {
			shas[e.CommitSHA] = true
			r.SHAs = append(r.SHAs, e.CommitSHA)
		}
		r.LinesAdded += e.LinesAdded
		r.LinesRemoved += e.LinesRemoved
		if e.Branch != "" {
			if branchCount[e.Branch] == 0 {
				branchOrder = append(branchOrder, e.Branch)
			}
			branchCount[e.Branch]++
		}
	}
	sort.Strings(r.Files)
	sort.Strings(r.SHAs)

	best := 0
	for _, b := range branchOrder {
		if branchCount[b] > best {
			r.DominantBranch, best = b, branchCount[b]
		}
	}
	return r
}

// Apply overwrites the task's rollup fields with r.
func (r *Rollup) Apply(task *types.Task) {
	task.RelatedFiles = append([]string(nil), r.Files...)
	task.CommitSHAs = append([]string(nil), r.SHAs...)
	task.FilesModified = len(r.Files)
	task.LinesAdded = r.LinesAdded
	task.LinesRemoved = r.LinesRemoved
	task.DominantBranch = r.DominantBranch
}

// Aggregator writes rollups back to storage.
type Aggregator struct {
	Store storage.Storage
}

// New creates an aggregator over store.
func New(store storage.Storage) *Aggregator {
	return &Aggregator{Store: store}
}

// Recompute rebuilds one task's rollup from its change log and stores it.
// The task's UpdatedAt is preserved: rollups are derived data and must not
// make a task look changed to the sync engine.
func (a *Aggregator) Recompute(ctx context.Context, taskID string) (*Rollup, error) {
	entries, err := a.Store.AggregateChangeLogForTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load change log for %s: %w", taskID, err)
	}
	task, err := a.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	r := Compute(taskID, entries)
	r.Apply(task)
	if _, err := a.Store.UpsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("store rollup for %s: %w", taskID, err)
	}
	return &r, nil
}

// RecomputeTasks recomputes the given tasks in id order. Failures are
// collected; the remaining tasks are still processed.
func (a *Aggregator) RecomputeTasks(ctx context.Context, ids []string) ([]*Rollup, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var out []*Rollup
	var errs []error
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, err := a.Recompute(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, r)
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("%d rollup(s) failed, first: %w", len(errs), errs[0])
	}
	return out, nil
}

// RecomputeAll recomputes every task that has change log entries.
func (a *Aggregator) RecomputeAll(ctx context.Context) ([]*Rollup, error) {
	ids, err := a.Store.ListTaskIDsWithChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks with changes: %w", err)
	}
	return a.RecomputeTasks(ctx, ids)
}
