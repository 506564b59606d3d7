package retro

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/github"
	"github.com/storysync/storysync/internal/rollup"
	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/types"
)

// CommitSource is the part of the GitHub client an audit reads from.
type CommitSource interface {
	ListCommits(ctx context.Context, page int, opts github.ListOptions) ([]github.Commit, error)
	GetCommitDetail(ctx context.Context, sha string) (*github.Commit, error)
}

var _ CommitSource = (*github.Client)(nil)

// DefaultCommitDelay spaces commits apart during an audit.
const DefaultCommitDelay = time.Second

// AuditOptions narrows an audit run.
type AuditOptions struct {
	Since    *time.Time
	Until    *time.Time
	Branch   string // defaults to the Auditor's branch
	MaxPages int    // 0 = until an empty page
	DryRun   bool
}

// AuditResult reports counts for one audit run.
type AuditResult struct {
	Processed        int      `json:"processed"`
	Exact            int      `json:"exact"`
	Matched          int      `json:"matched"`
	Unmatched        int      `json:"unmatched"` // routed by epic rules
	SyntheticCreated int      `json:"synthetic_created"`
	EntriesWritten   int      `json:"entries_written"`
	Failed           int      `json:"failed"`
	Minted           []string `json:"minted,omitempty"`
	Touched          []string `json:"touched,omitempty"`
	RolledUp         int      `json:"rolled_up"`
	DryRun           bool     `json:"dry_run,omitempty"`
}

// Auditor walks a repository's history and attributes every commit.
type Auditor struct {
	Source      CommitSource
	Store       storage.Storage
	Classifier  *Classifier
	Branch      string
	CommitDelay time.Duration

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
}

// NewAuditor creates an auditor with default rules and commit delay.
func NewAuditor(source CommitSource, store storage.Storage, classifier *Classifier) *Auditor {
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	return &Auditor{
		Source:      source,
		Store:       store,
		Classifier:  classifier,
		Branch:      "main",
		CommitDelay: DefaultCommitDelay,
	}
}

// auditRun holds the state of one Run call.
type auditRun struct {
	opts    AuditOptions
	branch  string
	state   *RunState
	idx     *Index
	touched map[string]bool
	result  *AuditResult
}

// Run pages through the commit history, classifies each commit, writes one
// change log row per touched file, then recomputes rollups for every touched
// task. Only a failure to read the first page, a failure to load tasks, or
// cancellation is returned as an error; per-commit failures are counted.
func (a *Auditor) Run(ctx context.Context, opts AuditOptions) (*AuditResult, error) {
	branch := opts.Branch
	if branch == "" {
		branch = a.Branch
	}
	tasks, err := a.Store.ListTasks(ctx, types.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	run := &auditRun{
		opts:    opts,
		branch:  branch,
		state:   NewRunState(),
		idx:     NewIndex(tasks),
		touched: make(map[string]bool),
		result:  &AuditResult{DryRun: opts.DryRun},
	}

	err = a.walk(ctx, run)
	run.result.Minted = run.state.MintedIDs()
	run.result.Touched = sortedKeys(run.touched)
	if err != nil {
		return run.result, err
	}

	if !opts.DryRun && len(run.result.Touched) > 0 {
		rolled, rerr := rollup.New(a.Store).RecomputeTasks(ctx, run.result.Touched)
		run.result.RolledUp = len(rolled)
		if rerr != nil {
			if ctx.Err() != nil {
				return run.result, ctx.Err()
			}
			a.warn("Rollup: %v", rerr)
		}
	}
	debug.Logf("audit finished: %+v", *run.result)
	return run.result, nil
}

func (a *Auditor) walk(ctx context.Context, run *auditRun) error {
	listOpts := github.ListOptions{SHA: run.branch, Since: run.opts.Since, Until: run.opts.Until}
	for page := 1; run.opts.MaxPages <= 0 || page <= run.opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits, err := a.Source.ListCommits(ctx, page, listOpts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if page == 1 {
				return fmt.Errorf("list commits: %w", err)
			}
			a.warn("Stopping at page %d: %v", page, err)
			run.result.Failed++
			return nil
		}
		if len(commits) == 0 {
			return nil
		}
		a.msg("Page %d: %d commit(s)", page, len(commits))

		for _, c := range commits {
			if err := ctx.Err(); err != nil {
				return err
			}
			if run.result.Processed+run.result.Failed > 0 {
				if err := a.pause(ctx); err != nil {
					return err
				}
			}
			if err := a.processCommit(ctx, run, c.SHA); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				run.result.Failed++
				a.warn("Commit %s: %v", shortSHA(c.SHA), err)
			}
		}
	}
	return nil
}

// pause waits CommitDelay or until ctx is done.
func (a *Auditor) pause(ctx context.Context) error {
	if a.CommitDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(a.CommitDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (a *Auditor) processCommit(ctx context.Context, run *auditRun, sha string) error {
	commit, err := a.Source.GetCommitDetail(ctx, sha)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(commit.Files))
	for _, f := range commit.Files {
		files = append(files, f.Filename)
	}

	m := a.Classifier.Classify(commit.Message(), files, run.idx)
	taskID := m.TaskID
	switch m.Tier {
	case TierExact:
		run.result.Exact++
	case TierScored:
		run.result.Matched++
	case TierEpic:
		run.result.Unmatched++
		taskID, err = a.syntheticTask(ctx, run, m.Rule, commit)
		if err != nil {
			return err
		}
	}
	debug.Logf("commit %s -> %s (%s, score %.1f)", shortSHA(commit.SHA), taskID, m.Tier, m.Score)

	if run.opts.DryRun {
		a.msg("[dry-run] %s -> %s (%s)", shortSHA(commit.SHA), taskID, m.Tier)
		run.result.Processed++
		run.touched[taskID] = true
		return nil
	}

	for _, f := range commit.Files {
		written, err := a.Store.AppendChangeLogEntry(ctx, &types.ChangeLogEntry{
			TaskID:        taskID,
			FilePath:      f.Filename,
			ChangeType:    f.ChangeType(),
			LinesAdded:    f.Additions,
			LinesRemoved:  f.Deletions,
			CommitSHA:     commit.SHA,
			CommitMessage: commit.Message(),
			CommitURL:     commit.HTMLURL,
			Branch:        run.branch,
			Author:        commit.AuthorName(),
			CommittedAt:   commit.Timestamp(),
		})
		if err != nil {
			return fmt.Errorf("write change log for %s: %w", f.Filename, err)
		}
		if written {
			run.result.EntriesWritten++
		}
	}

	if err := a.attach(ctx, run, taskID, commit.SHA, files); err != nil {
		return err
	}
	run.result.Processed++
	run.touched[taskID] = true
	return nil
}

// attach merges the commit's SHA and files into the task.
func (a *Auditor) attach(ctx context.Context, run *auditRun, taskID, sha string, files []string) error {
	task, err := a.Store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load %s: %w", taskID, err)
	}
	changedSHA := task.AddCommitSHAs(sha)
	changedFiles := task.AddRelatedFiles(files...)
	if !changedSHA && !changedFiles {
		return nil
	}
	stored, err := a.Store.UpsertTask(ctx, task)
	if err != nil {
		return fmt.Errorf("update %s: %w", taskID, err)
	}
	run.idx.Put(stored)
	return nil
}

// syntheticTask returns the run's task for rule's epic, minting and storing
// it on first use.
func (a *Auditor) syntheticTask(ctx context.Context, run *auditRun, rule *EpicRule, commit *github.Commit) (string, error) {
	if id, ok := run.state.MintedFor(rule.Epic); ok {
		return id, nil
	}
	id, err := run.state.NextID(ctx, a.Store, rule.Prefix)
	if err != nil {
		return "", err
	}
	task := &types.Task{
		ID:          id,
		Title:       syntheticTitle(rule.Epic),
		Description: fmt.Sprintf("Reconstructed from commit history, starting at %s: %s", shortSHA(commit.SHA), firstLine(commit.Message())),
		Status:      types.StatusDone,
		Priority:    types.PriorityMedium,
		Epic:        rule.Epic,
		Retroactive: true,
		Origin:      types.OriginRetro,
		CreatedAt:   commit.Timestamp(),
	}
	run.state.Remember(rule.Epic, id)
	if run.opts.DryRun {
		a.msg("[dry-run] Would create %s (%s)", id, rule.Epic)
		run.idx.Put(task)
		run.result.SyntheticCreated++
		return id, nil
	}
	stored, err := a.Store.UpsertTask(ctx, task)
	if err != nil {
		return "", fmt.Errorf("create synthetic task %s: %w", id, err)
	}
	run.idx.Put(stored)
	run.result.SyntheticCreated++
	a.msg("Created %s for epic %s", id, rule.Epic)
	return id, nil
}

func syntheticTitle(epic string) string {
	if epic == "" {
		return "Retroactive work"
	}
	return "Retroactive " + epic + " work"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (a *Auditor) msg(format string, args ...interface{}) {
	if a.OnMessage != nil {
		a.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (a *Auditor) warn(format string, args ...interface{}) {
	if a.OnWarning != nil {
		a.OnWarning(fmt.Sprintf(format, args...))
	}
}
