package tracker

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/storysync/storysync/internal/jira"
)

// fakeJira is an in-memory IssueClient that records every call.
type fakeJira struct {
	mu     sync.Mutex
	issues map[string]*jira.Issue
	next   int

	creates     []jira.IssueSpec
	updates     []string
	gets        []string
	transitions []string // "KEY->Status"
	searches    []string

	blocked    map[string]bool // target statuses with no transition
	failUpdate map[string]error
	createErr  error
	searchErr  error
	onCreate   func(spec jira.IssueSpec)
}

var _ IssueClient = (*fakeJira)(nil)

func newFakeJira() *fakeJira {
	return &fakeJira{
		issues:     make(map[string]*jira.Issue),
		blocked:    make(map[string]bool),
		failUpdate: make(map[string]error),
	}
}

func jiraTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000-0700")
}

func (f *fakeJira) addIssue(key, summary, status string, updated time.Time) *jira.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue := &jira.Issue{
		ID:  "id-" + key,
		Key: key,
		Fields: jira.IssueFields{
			Summary:  summary,
			Status:   &jira.NamedField{Name: status},
			Priority: &jira.NamedField{Name: "Medium"},
			Created:  jiraTime(updated.Add(-time.Hour)),
			Updated:  jiraTime(updated),
		},
	}
	f.issues[key] = issue
	return issue
}

func (f *fakeJira) issue(key string) *jira.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.issues[key]
	return &cp
}

func notFound(key string) error {
	return &jira.RemoteError{Method: http.MethodGet, Path: "/rest/api/3/issue/" + key, StatusCode: http.StatusNotFound}
}

func (f *fakeJira) GetIssue(_ context.Context, key string, _ ...string) (*jira.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, key)
	issue, ok := f.issues[key]
	if !ok {
		return nil, notFound(key)
	}
	cp := *issue
	return &cp, nil
}

func (f *fakeJira) CreateIssue(_ context.Context, spec jira.IssueSpec) (*jira.Issue, error) {
	if f.onCreate != nil {
		f.onCreate(spec)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, spec)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.next++
	key := fmt.Sprintf("%s-%d", spec.Project, f.next)
	f.issues[key] = &jira.Issue{
		ID:  fmt.Sprintf("%d", 10000+f.next),
		Key: key,
		Fields: jira.IssueFields{
			Summary: spec.Summary,
			Status:  &jira.NamedField{Name: "To Do"},
			Updated: jiraTime(time.Now()),
		},
	}
	return &jira.Issue{ID: f.issues[key].ID, Key: key, Fields: jira.IssueFields{Summary: spec.Summary}}, nil
}

func (f *fakeJira) UpdateIssue(_ context.Context, key string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, key)
	if err := f.failUpdate[key]; err != nil {
		return err
	}
	issue, ok := f.issues[key]
	if !ok {
		return notFound(key)
	}
	if s, ok := fields["summary"].(string); ok {
		issue.Fields.Summary = s
	}
	return nil
}

func (f *fakeJira) TransitionTo(_ context.Context, key, statusName string) (*jira.Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked[statusName] {
		return nil, &jira.TransitionNotFoundError{Key: key, Status: statusName, Available: []string{"In Progress"}}
	}
	issue, ok := f.issues[key]
	if !ok {
		return nil, notFound(key)
	}
	issue.Fields.Status = &jira.NamedField{Name: statusName}
	f.transitions = append(f.transitions, key+"->"+statusName)
	return &jira.Transition{ID: "31", Name: "Move to " + statusName, To: jira.NamedField{Name: statusName}}, nil
}

func (f *fakeJira) Search(_ context.Context, jql string, maxResults int, _ ...string) ([]jira.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, jql)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	keys := make([]string, 0, len(f.issues))
	for k := range f.issues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []jira.Issue
	for _, k := range keys {
		if len(out) == maxResults {
			break
		}
		out = append(out, *f.issues[k])
	}
	return out, nil
}

func (f *fakeJira) counts() (creates, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.updates)
}
