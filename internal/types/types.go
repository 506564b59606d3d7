// Package types defines core data structures for the storysync ledger.
package types

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Task is the local canonical unit of work, optionally mirrored to the
// remote tracker.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	AcceptanceCriteria string     `json:"acceptance_criteria,omitempty"`
	TechnicalNotes     string     `json:"technical_notes,omitempty"`
	Status             Status     `json:"status"`
	Priority           Priority   `json:"priority"`
	StoryPoints        *int       `json:"story_points,omitempty"`
	Epic               string     `json:"epic,omitempty"`
	RemoteIssueKey     *string    `json:"remote_issue_key,omitempty"` // e.g. "PROJ-123"
	SyncStatus         SyncStatus `json:"sync_status"`
	LastSyncedAt       *time.Time `json:"last_synced_at,omitempty"`
	Retroactive        bool       `json:"retroactive,omitempty"` // Minted from commit history
	Origin             Origin     `json:"origin,omitempty"`

	// Rollup fields, fully overwritten by the aggregator
	RelatedFiles   []string `json:"related_files,omitempty"`
	CommitSHAs     []string `json:"commit_shas,omitempty"`
	DominantBranch string   `json:"dominant_branch,omitempty"`
	FilesModified  int      `json:"files_modified"`
	LinesAdded     int      `json:"lines_added"`
	LinesRemoved   int      `json:"lines_removed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is bumped by storage on every write. ClaimRemoteKey compares
	// against it so two concurrent runs cannot both assign a remote key.
	Version int64 `json:"version"`
}

// Status represents the local workflow state of a task.
type Status string

// Task status constants
const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusInReview   Status = "in-review"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// AllStatuses lists every local status in workflow order.
var AllStatuses = []Status{StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusBlocked}

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusBlocked:
		return true
	}
	return false
}

// Priority represents the local urgency of a task.
type Priority string

// Task priority constants
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// AllPriorities lists every local priority from most to least urgent.
var AllPriorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// SyncStatus records the outcome of the last sync attempt for a task.
type SyncStatus string

// Sync status constants
const (
	SyncStatusUnsynced SyncStatus = "unsynced"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusError    SyncStatus = "error"
	SyncStatusPending  SyncStatus = "pending" // remote create in flight
)

// Origin records how a task entered the ledger.
type Origin string

// Task origin constants
const (
	OriginLocal  Origin = "local"  // Authored directly
	OriginRemote Origin = "remote" // Pulled from the tracker
	OriginRetro  Origin = "retro"  // Minted by the commit classifier
)

// Validate checks if the task has valid field values
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	if t.StoryPoints != nil && *t.StoryPoints < 0 {
		return fmt.Errorf("story points must be non-negative (got %d)", *t.StoryPoints)
	}
	if t.FilesModified < 0 || t.LinesAdded < 0 || t.LinesRemoved < 0 {
		return fmt.Errorf("rollup counters must be non-negative")
	}
	return nil
}

// SetDefaults fills zero-valued enum fields with their documented defaults.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.SyncStatus == "" {
		t.SyncStatus = SyncStatusUnsynced
	}
	if t.Origin == "" {
		if t.Retroactive {
			t.Origin = OriginRetro
		} else {
			t.Origin = OriginLocal
		}
	}
}

// IsStale reports whether the task changed since it was last synced, or was
// never synced at all.
func (t *Task) IsStale() bool {
	if t.LastSyncedAt == nil {
		return true
	}
	return t.LastSyncedAt.Before(t.UpdatedAt)
}

// RemoteKey returns the remote issue key or "" when the task is unlinked.
func (t *Task) RemoteKey() string {
	if t.RemoteIssueKey == nil {
		return ""
	}
	return *t.RemoteIssueKey
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.StoryPoints != nil {
		sp := *t.StoryPoints
		c.StoryPoints = &sp
	}
	if t.RemoteIssueKey != nil {
		k := *t.RemoteIssueKey
		c.RemoteIssueKey = &k
	}
	if t.LastSyncedAt != nil {
		ts := *t.LastSyncedAt
		c.LastSyncedAt = &ts
	}
	c.RelatedFiles = slices.Clone(t.RelatedFiles)
	c.CommitSHAs = slices.Clone(t.CommitSHAs)
	return &c
}

// AddRelatedFiles merges paths into RelatedFiles, keeping the set sorted and
// duplicate-free. Returns true if anything was added.
func (t *Task) AddRelatedFiles(paths ...string) bool {
	return mergeSorted(&t.RelatedFiles, paths)
}

// AddCommitSHAs merges SHAs into CommitSHAs. Returns true if anything was added.
func (t *Task) AddCommitSHAs(shas ...string) bool {
	return mergeSorted(&t.CommitSHAs, shas)
}

func mergeSorted(dst *[]string, add []string) bool {
	seen := make(map[string]bool, len(*dst))
	for _, v := range *dst {
		seen[v] = true
	}
	changed := false
	for _, v := range add {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		*dst = append(*dst, v)
		changed = true
	}
	if changed {
		sort.Strings(*dst)
	}
	return changed
}

// ContentHash returns a deterministic hash of the fields that are pushed to
// the remote tracker. Pull dry runs compare it before and after applying an
// issue to report whether the overwrite would change anything.
func (t *Task) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(t.Title))
	h.Write([]byte{0})
	h.Write([]byte(t.Description))
	h.Write([]byte{0})
	h.Write([]byte(t.AcceptanceCriteria))
	h.Write([]byte{0})
	h.Write([]byte(t.TechnicalNotes))
	h.Write([]byte{0})
	h.Write([]byte(t.Status))
	h.Write([]byte{0})
	h.Write([]byte(t.Priority))
	h.Write([]byte{0})
	if t.StoryPoints != nil {
		h.Write([]byte(fmt.Sprintf("%d", *t.StoryPoints)))
	}
	h.Write([]byte{0})
	h.Write([]byte(t.Epic))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// TaskFilter narrows ListTasks results. Zero values mean "no filter".
type TaskFilter struct {
	IDs         []string
	Status      *Status
	SyncStatus  *SyncStatus
	Epic        string
	Retroactive *bool
	Limit       int
}

// StrPtr returns a pointer to the given string.
func StrPtr(s string) *string { return &s }

// IntPtr returns a pointer to the given int.
func IntPtr(i int) *int { return &i }
