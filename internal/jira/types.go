// Package jira is the REST v3 client for the remote tracker, plus the pure
// field mapping between local tasks and Jira issues.
package jira

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the fields of a Jira issue. Custom fields land in
// Extra keyed by field id.
type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"` // ADF document, kept opaque
	Status      *NamedField     `json:"status"`
	Priority    *NamedField     `json:"priority"`
	IssueType   *NamedField     `json:"issuetype"`
	Project     *ProjectField   `json:"project"`
	Assignee    *UserField      `json:"assignee"`
	Reporter    *UserField      `json:"reporter"`
	Labels      []string        `json:"labels"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`

	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps customfield_* values.
func (f *IssueFields) UnmarshalJSON(data []byte) error {
	type plain IssueFields
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*f = IssueFields(known)
	for k, raw := range all {
		if strings.HasPrefix(k, "customfield_") {
			if f.Extra == nil {
				f.Extra = make(map[string]json.RawMessage)
			}
			f.Extra[k] = raw
		}
	}
	return nil
}

// NamedField is the {id, name} shape shared by status, priority and type.
type NamedField struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ProjectField represents a Jira project.
type ProjectField struct {
	ID  string `json:"id,omitempty"`
	Key string `json:"key"`
}

// UserField represents a Jira user.
type UserField struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// StatusName returns the status name or "".
func (i *Issue) StatusName() string {
	if i.Fields.Status != nil {
		return i.Fields.Status.Name
	}
	return ""
}

// PriorityName returns the priority name or "".
func (i *Issue) PriorityName() string {
	if i.Fields.Priority != nil {
		return i.Fields.Priority.Name
	}
	return ""
}

// StoryPoints reads a numeric custom field. Fractional values are truncated;
// null, missing or negative values yield nil.
func (i *Issue) StoryPoints(fieldID string) *int {
	raw, ok := i.Fields.Extra[fieldID]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.Trim(string(raw), `"`), 64)
	if err != nil || f < 0 {
		return nil
	}
	n := int(f)
	return &n
}

// SearchResult represents a Jira JQL search response.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Transition is one edge out of an issue's current status.
type Transition struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	To   NamedField `json:"to"`
}

// IssueSpec describes an issue to create. Fields are merged into the
// request body after project, summary and issue type.
type IssueSpec struct {
	Project   string
	Summary   string
	IssueType string
	Fields    map[string]interface{}
}

// ConnectionInfo is what /myself reports for the configured credentials.
type ConnectionInfo struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}
