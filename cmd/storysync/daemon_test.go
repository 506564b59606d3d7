package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/storysync/storysync/internal/jira"
	"github.com/storysync/storysync/internal/storage/memory"
	"github.com/storysync/storysync/internal/tracker"
	"github.com/storysync/storysync/internal/types"
	"github.com/storysync/storysync/internal/worker"
)

// searchRecorder answers every search with no issues and remembers the JQL.
type searchRecorder struct {
	mu      sync.Mutex
	queries []string
	fail    bool
}

func (s *searchRecorder) GetIssue(context.Context, string, ...string) (*jira.Issue, error) {
	return nil, errors.New("not used")
}

func (s *searchRecorder) CreateIssue(context.Context, jira.IssueSpec) (*jira.Issue, error) {
	return nil, errors.New("not used")
}

func (s *searchRecorder) UpdateIssue(context.Context, string, map[string]interface{}) error {
	return errors.New("not used")
}

func (s *searchRecorder) TransitionTo(context.Context, string, string) (*jira.Transition, error) {
	return nil, errors.New("not used")
}

func (s *searchRecorder) Search(_ context.Context, jql string, _ int, _ ...string) ([]jira.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, jql)
	if s.fail {
		return nil, &jira.RemoteError{Method: "GET", Path: "/rest/api/3/search", StatusCode: 503}
	}
	return nil, nil
}

func newRecorderPool(rec *searchRecorder) *worker.Pool {
	store := memory.New()
	return worker.NewPool(1, store, func() (*tracker.Engine, error) {
		return tracker.NewEngine(rec, store, nil, "PROJ"), nil
	})
}

func TestSyncJobPullsIncrementally(t *testing.T) {
	rec := &searchRecorder{}
	job := syncJob(newRecorderPool(rec), types.DirectionPull)
	ctx := context.Background()

	if err := job(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := job(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(rec.queries) != 2 {
		t.Fatalf("searches = %d, want 2", len(rec.queries))
	}
	if strings.Contains(rec.queries[0], "updated >=") {
		t.Errorf("first run should pull everything: %s", rec.queries[0])
	}
	if !strings.Contains(rec.queries[1], "updated >=") {
		t.Errorf("second run should be incremental: %s", rec.queries[1])
	}
}

func TestSyncJobCancelled(t *testing.T) {
	rec := &searchRecorder{}
	job := syncJob(newRecorderPool(rec), types.DirectionPull)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := job(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(rec.queries) != 0 {
		t.Errorf("a cancelled run searched %d time(s)", len(rec.queries))
	}
}
