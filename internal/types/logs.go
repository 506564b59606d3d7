package types

import (
	"encoding/json"
	"time"
)

// SyncType identifies what a sync attempt did to the remote or local record.
type SyncType string

// Sync type constants
const (
	SyncTypeCreate SyncType = "create"
	SyncTypeUpdate SyncType = "update"
	SyncTypePull   SyncType = "pull"
)

// Direction is the direction of data flow for a sync attempt or run.
type Direction string

// Direction constants
const (
	DirectionPush          Direction = "push"
	DirectionPull          Direction = "pull"
	DirectionBidirectional Direction = "bidirectional"
)

// IsValid checks if the direction value is valid
func (d Direction) IsValid() bool {
	switch d {
	case DirectionPush, DirectionPull, DirectionBidirectional:
		return true
	}
	return false
}

// Outcome is the result of a single sync attempt.
type Outcome string

// Outcome constants
const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Metadata keys recorded on sync log entries.
const (
	MetaConflictDetected  = "conflictDetected"
	MetaConflictResolved  = "conflictResolved"
	MetaResolution        = "resolution"
	MetaTransition        = "transition"
	MetaTransitionWarning = "transitionWarning"
	MetaDryRun            = "dryRun"
)

// SyncLogEntry is one append-only audit row per sync attempt.
type SyncLogEntry struct {
	ID             string         `json:"id"`
	TaskID         string         `json:"task_id"`
	RemoteIssueKey *string        `json:"remote_issue_key,omitempty"`
	SyncType       SyncType       `json:"sync_type"`
	Direction      Direction      `json:"direction"`
	Outcome        Outcome        `json:"outcome"`
	Duration       time.Duration  `json:"duration_ns"`
	Error          *string        `json:"error,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MetadataJSON encodes Metadata for storage. Nil metadata encodes as "{}".
func (e *SyncLogEntry) MetadataJSON() string {
	if len(e.Metadata) == 0 {
		return "{}"
	}
	data, err := json.Marshal(e.Metadata)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// SyncLogFilter narrows ListSyncLog results.
type SyncLogFilter struct {
	TaskID  string
	Outcome Outcome
	Since   *time.Time
	Limit   int
}

// ChangeType is the per-file status reported by the commit source.
type ChangeType string

// Change type constants
const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
	ChangeRenamed  ChangeType = "renamed"
)

// ParseChangeType normalizes a commit-source file status. Unknown values map
// to ChangeModified.
func ParseChangeType(s string) ChangeType {
	switch s {
	case "added":
		return ChangeAdded
	case "removed", "deleted":
		return ChangeRemoved
	case "renamed", "copied":
		return ChangeRenamed
	default:
		return ChangeModified
	}
}

// ChangeLogEntry is one row per (commit, file) pair attributing a file
// change to a task.
type ChangeLogEntry struct {
	TaskID        string     `json:"task_id"`
	FilePath      string     `json:"file_path"`
	ChangeType    ChangeType `json:"change_type"`
	LinesAdded    int        `json:"lines_added"`
	LinesRemoved  int        `json:"lines_removed"`
	CommitSHA     string     `json:"commit_sha"`
	CommitMessage string     `json:"commit_message"`
	CommitURL     string     `json:"commit_url,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	Author        string     `json:"author,omitempty"`
	CommittedAt   time.Time  `json:"committed_at"`
}

// Key returns the natural idempotency key of the entry.
func (e *ChangeLogEntry) Key() string {
	return e.CommitSHA + "\x00" + e.FilePath
}
