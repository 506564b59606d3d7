package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValidationError lists required keys that are missing or invalid. It is a
// startup failure; no work runs once it is returned.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

func (e *ValidationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

// JiraSettings is the tracker connection block.
type JiraSettings struct {
	URL              string
	Email            string
	APIToken         string
	Project          string
	StoryPointsField string
	StatusMap        map[string]string
	PriorityMap      map[string]string
	Timeout          time.Duration
	RetryMaxElapsed  time.Duration
}

// GitHubSettings is the commit source block.
type GitHubSettings struct {
	Owner           string
	Repo            string
	Token           string
	Branch          string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
}

// StorageSettings selects the ledger backend.
type StorageSettings struct {
	Backend  string
	DSN      string
	Database string
}

// SyncSettings tunes the sync engine.
type SyncSettings struct {
	ConflictWindow time.Duration
	PullLimit      int
	Direction      string
}

// RetroSettings tunes the commit audit.
type RetroSettings struct {
	CommitDelay time.Duration
	DetailDelay time.Duration
	RulesFile   string
}

func Jira() JiraSettings {
	return JiraSettings{
		URL:              strings.TrimRight(GetString("jira.url"), "/"),
		Email:            GetString("jira.email"),
		APIToken:         GetString("jira.api_token"),
		Project:          GetString("jira.project"),
		StoryPointsField: GetString("jira.story_points_field"),
		StatusMap:        GetStringMapString("jira.status_map"),
		PriorityMap:      GetStringMapString("jira.priority_map"),
		Timeout:          GetDuration("http.timeout"),
		RetryMaxElapsed:  GetDuration("http.retry_max_elapsed"),
	}
}

func GitHub() GitHubSettings {
	return GitHubSettings{
		Owner:           GetString("github.owner"),
		Repo:            GetString("github.repo"),
		Token:           GetString("github.token"),
		Branch:          GetString("github.branch"),
		Timeout:         GetDuration("http.timeout"),
		RetryMaxElapsed: GetDuration("http.retry_max_elapsed"),
	}
}

func Storage() StorageSettings {
	return StorageSettings{
		Backend:  GetString("storage.backend"),
		DSN:      GetString("storage.dsn"),
		Database: GetString("storage.database"),
	}
}

func Retro() RetroSettings {
	return RetroSettings{
		CommitDelay: GetDuration("retro.commit_delay"),
		DetailDelay: GetDuration("retro.detail_delay"),
		RulesFile:   GetString("retro.rules_file"),
	}
}

// ValidateSync checks everything a sync run needs before it starts.
func ValidateSync() error {
	verr := &ValidationError{}
	requireKeys(verr, "jira.url", "jira.email", "jira.api_token", "jira.project")
	validateStorage(verr)
	if GetDuration("sync.conflict_window") < 0 {
		verr.Invalid = append(verr.Invalid, "sync.conflict_window")
	}
	if GetInt("sync.pull_limit") <= 0 {
		verr.Invalid = append(verr.Invalid, "sync.pull_limit")
	}
	if verr.empty() {
		return nil
	}
	return verr
}

// ValidateAudit checks everything a commit audit needs. The GitHub token is
// optional.
func ValidateAudit() error {
	verr := &ValidationError{}
	requireKeys(verr, "github.owner", "github.repo")
	validateStorage(verr)
	if GetDuration("retro.commit_delay") < 0 {
		verr.Invalid = append(verr.Invalid, "retro.commit_delay")
	}
	if verr.empty() {
		return nil
	}
	return verr
}

// ValidateStorage checks the storage block alone (rollup, status).
func ValidateStorage() error {
	verr := &ValidationError{}
	validateStorage(verr)
	if verr.empty() {
		return nil
	}
	return verr
}

func requireKeys(verr *ValidationError, keys ...string) {
	for _, key := range keys {
		if GetString(key) == "" {
			verr.Missing = append(verr.Missing, key)
		}
	}
	sort.Strings(verr.Missing)
}

func validateStorage(verr *ValidationError) {
	switch GetString("storage.backend") {
	case "memory":
		return
	case "sqlite", "mysql", "dolt":
	default:
		verr.Invalid = append(verr.Invalid, fmt.Sprintf("storage.backend (%q)", GetString("storage.backend")))
	}
	if GetString("storage.dsn") == "" {
		verr.Missing = append(verr.Missing, "storage.dsn")
	}
}
