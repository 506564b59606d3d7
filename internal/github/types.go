// Package github reads commit history from the GitHub REST API.
package github

import (
	"fmt"
	"net/http"
	"time"

	"github.com/storysync/storysync/internal/types"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// PageSize is the number of commits requested per list page.
	PageSize = 100

	// DefaultDetailDelay spaces out commit detail fetches.
	DefaultDetailDelay = 250 * time.Millisecond
)

// Commit is a commit from the list or detail endpoint. Files is only
// populated by GetCommitDetail.
type Commit struct {
	SHA     string       `json:"sha"`
	HTMLURL string       `json:"html_url"`
	Commit  CommitData   `json:"commit"`
	Author  *User        `json:"author,omitempty"`
	Files   []FileDelta  `json:"files,omitempty"`
	Stats   *CommitStats `json:"stats,omitempty"`
}

// CommitData is the git-level payload of a commit.
type CommitData struct {
	Author  GitIdentity `json:"author"`
	Message string      `json:"message"`
}

// GitIdentity is a git author or committer.
type GitIdentity struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

// User represents a GitHub user.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// FileDelta is one file touched by a commit.
type FileDelta struct {
	Filename         string `json:"filename"`
	Status           string `json:"status"` // added, modified, removed, renamed, copied, changed
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	PreviousFilename string `json:"previous_filename,omitempty"`
}

// CommitStats are the totals reported with a commit detail.
type CommitStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Total     int `json:"total"`
}

// Repository is the subset of repo metadata used by the preflight check.
type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// Message returns the commit message.
func (c *Commit) Message() string { return c.Commit.Message }

// AuthorName prefers the git author name, falling back to the login.
func (c *Commit) AuthorName() string {
	if c.Commit.Author.Name != "" {
		return c.Commit.Author.Name
	}
	if c.Author != nil {
		return c.Author.Login
	}
	return ""
}

// Timestamp is the author date.
func (c *Commit) Timestamp() time.Time { return c.Commit.Author.Date }

// ChangeType maps the GitHub file status onto the change log enumeration.
func (f FileDelta) ChangeType() types.ChangeType {
	return types.ParseChangeType(f.Status)
}

// ListOptions filters ListCommits.
type ListOptions struct {
	// SHA is a branch name or commit to start listing from.
	SHA   string
	Since *time.Time
	Until *time.Time
}

// APIError is a non-2xx response, or a transport failure (StatusCode 0).
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error

	rateLimited bool
	retryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("github %s %s: %v", e.Method, e.Path, e.Err)
	}
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("github %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) Unwrap() error { return e.Err }

// RateLimited reports a 429, or a 403 with X-RateLimit-Remaining: 0.
func (e *APIError) RateLimited() bool { return e.rateLimited }

// Temporary reports whether the request is worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 0 || e.rateLimited || e.StatusCode >= http.StatusInternalServerError
}

// RetryAfter implements httpretry.Hinted.
func (e *APIError) RetryAfter() time.Duration { return e.retryAfter }
