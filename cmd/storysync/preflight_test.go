package main

import (
	"context"
	"errors"
	"testing"
)

func probe(detail string, err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return detail, err }
}

func TestRunPreflight(t *testing.T) {
	down := errors.New("connection refused")
	tests := []struct {
		name     string
		jira     error
		github   error
		wantFail bool
	}{
		{"both up", nil, nil, false},
		{"jira down", down, nil, false},
		{"github down", nil, down, false},
		{"both down", down, down, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := runPreflight(context.Background(),
				preflightCheck{Name: "jira", Probe: probe("jira ok", tt.jira)},
				preflightCheck{Name: "github", Probe: probe("github ok", tt.github)},
			)
			if (err != nil) != tt.wantFail {
				t.Fatalf("err = %v, wantFail %v", err, tt.wantFail)
			}
			if tt.wantFail && !errors.Is(err, errPreflight) {
				t.Errorf("err = %v, want errPreflight", err)
			}
			if len(results) != 2 {
				t.Fatalf("got %d results, want 2", len(results))
			}
			if results[0].OK != (tt.jira == nil) || results[1].OK != (tt.github == nil) {
				t.Errorf("results = %+v", results)
			}
			if tt.jira != nil && results[0].Detail != down.Error() {
				t.Errorf("failed check detail = %q, want the error", results[0].Detail)
			}
		})
	}
}

func TestGitHubProbeRequiresRepo(t *testing.T) {
	t.Setenv("GITHUB_OWNER", "")
	t.Setenv("GITHUB_REPO", "")
	if err := initTestConfig(t); err != nil {
		t.Fatal(err)
	}
	if _, err := githubProbe(context.Background()); err == nil {
		t.Fatal("expected an error when owner and repo are unset")
	}
}
