// Package tracker synchronizes the local task ledger with Jira.
//
// The Engine pushes local tasks to Jira (create-once, then update and
// transition), pulls issues back into the ledger under a remote-wins policy,
// and records one sync log row per attempt. Per-record failures never abort a
// batch; they are counted in the SyncResult.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/storysync/storysync/internal/jira"
	"github.com/storysync/storysync/internal/types"
)

// ErrCreatePending is returned for a task whose remote create may already
// have happened: a create that failed after reaching Jira, or a reservation
// left by a push that is still running or was interrupted. The task stays
// pending until it is pushed with Force.
var ErrCreatePending = errors.New("remote create pending")

// IssueClient is the part of the Jira client the engine drives.
type IssueClient interface {
	GetIssue(ctx context.Context, key string, extraFields ...string) (*jira.Issue, error)
	CreateIssue(ctx context.Context, spec jira.IssueSpec) (*jira.Issue, error)
	UpdateIssue(ctx context.Context, key string, fields map[string]interface{}) error
	TransitionTo(ctx context.Context, key, statusName string) (*jira.Transition, error)
	Search(ctx context.Context, jql string, maxResults int, extraFields ...string) ([]jira.Issue, error)
}

var _ IssueClient = (*jira.Client)(nil)

// AttemptState is the per-task state of one sync attempt. It is never
// persisted; an interrupted attempt leaves the task's SyncStatus unchanged.
type AttemptState string

// Attempt states
const (
	AttemptPending  AttemptState = "pending"
	AttemptInFlight AttemptState = "in-flight"
	AttemptSynced   AttemptState = "synced"
	AttemptError    AttemptState = "error"
	AttemptSkipped  AttemptState = "skipped"
)

// DefaultConflictWindow is how close remote and local update times must be
// for a pull to flag a conflict.
const DefaultConflictWindow = 60 * time.Second

// DefaultPullLimit caps the issues fetched by one pull.
const DefaultPullLimit = 100

// ResolutionRemoteWins is recorded as the resolution of every pull conflict.
const ResolutionRemoteWins = "remote-wins"

// SyncOptions configures SyncAll.
type SyncOptions struct {
	// Direction defaults to bidirectional (push, then pull).
	Direction types.Direction
	// TaskIDs restricts the push to these tasks, stale or not.
	TaskIDs []string
	// Force pushes every task instead of only stale ones.
	Force bool
	// DryRun reports what would happen without remote or storage writes.
	DryRun bool
	// Since limits the pull to issues updated at or after this instant.
	Since *time.Time
	// PullLimit caps the pull query (default 100).
	PullLimit int
}

// TaskResult is the outcome of one push or pull attempt.
type TaskResult struct {
	TaskID            string          `json:"task_id"`
	RemoteKey         string          `json:"remote_key,omitempty"`
	URL               string          `json:"url,omitempty"` // Browse link, filled in by the CLI
	Direction         types.Direction `json:"direction"`
	SyncType          types.SyncType  `json:"sync_type"`
	State             AttemptState    `json:"state"`
	Conflict          bool            `json:"conflict,omitempty"`
	Transition        string          `json:"transition,omitempty"`
	TransitionWarning string          `json:"transition_warning,omitempty"`
	DryRun            bool            `json:"dry_run,omitempty"`
	Duration          time.Duration   `json:"duration_ns"`
	Error             string          `json:"error,omitempty"`

	Err error `json:"-"`
}

// Failed reports whether the attempt ended in error.
func (r *TaskResult) Failed() bool { return r.State == AttemptError }

// SyncStats accumulates counts over a run.
type SyncStats struct {
	Succeeded          int `json:"succeeded"`
	Failed             int `json:"failed"`
	Created            int `json:"created"`             // Created remotely (push) or locally (pull)
	Updated            int `json:"updated"`             // Existing records overwritten
	Pushed             int `json:"pushed"`              // Successful push attempts
	Pulled             int `json:"pulled"`              // Successful pull attempts
	Conflicts          int `json:"conflicts"`           // Pulls that flagged a conflict
	Skipped            int `json:"skipped"`             // Unchanged on both sides
	TransitionWarnings int `json:"transition_warnings"` // Status left unchanged remotely
}

// SyncResult is the complete result of SyncAll. Tasks holds per-attempt
// results in invocation order: pushes first, then pulls.
type SyncResult struct {
	Success   bool            `json:"success"`
	Direction types.Direction `json:"direction"`
	DryRun    bool            `json:"dry_run,omitempty"`
	Stats     SyncStats       `json:"stats"`
	Tasks     []*TaskResult   `json:"tasks"`
	LastSync  string          `json:"last_sync,omitempty"` // RFC3339
	Error     string          `json:"error,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

func (r *SyncResult) add(tr *TaskResult) {
	r.Tasks = append(r.Tasks, tr)
	switch tr.State {
	case AttemptSkipped:
		r.Stats.Skipped++
		return
	case AttemptError:
		r.Stats.Failed++
		return
	}
	r.Stats.Succeeded++
	if tr.Direction == types.DirectionPush {
		r.Stats.Pushed++
	} else {
		r.Stats.Pulled++
	}
	if tr.SyncType == types.SyncTypeCreate {
		r.Stats.Created++
	} else {
		r.Stats.Updated++
	}
	if tr.Conflict {
		r.Stats.Conflicts++
	}
	if tr.TransitionWarning != "" {
		r.Stats.TransitionWarnings++
	}
}

// Merge folds other into r. Used when a run is split across workers.
func (r *SyncResult) Merge(other *SyncResult) {
	if other == nil {
		return
	}
	for _, tr := range other.Tasks {
		r.add(tr)
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
	if !other.Success {
		r.Success = false
	}
	if other.Error != "" && r.Error == "" {
		r.Error = other.Error
	}
	if r.LastSync == "" || (other.LastSync != "" && other.LastSync < r.LastSync) {
		r.LastSync = other.LastSync
	}
}
