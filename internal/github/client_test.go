package github

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storysync/storysync/internal/types"
)

func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(token, "acme", "web").
		WithBaseURL(srv.URL).
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}).
		WithDetailDelay(0).
		WithRetryMaxElapsed(3 * time.Second)
}

// TestNewClient verifies the constructor creates a properly configured client.
func TestNewClient(t *testing.T) {
	client := NewClient("test-token", "owner", "repo")

	if client.Token != "test-token" || client.Owner != "owner" || client.Repo != "repo" {
		t.Errorf("client = %+v", client)
	}
	if client.BaseURL != DefaultAPIEndpoint {
		t.Errorf("BaseURL = %q, want %q", client.BaseURL, DefaultAPIEndpoint)
	}
	if client.HTTPClient == nil {
		t.Error("HTTPClient is nil, want non-nil default client")
	}
	if client.detailLimiter == nil {
		t.Error("detail limiter not configured")
	}
}

// TestBuildersDoNotMutate verifies the With* builders return copies.
func TestBuildersDoNotMutate(t *testing.T) {
	base := NewClient("token", "owner", "repo")
	custom := &http.Client{Timeout: time.Minute}
	derived := base.WithHTTPClient(custom).WithBaseURL("https://ghe.example.com/api/v3/")

	if base.HTTPClient == custom || base.BaseURL != DefaultAPIEndpoint {
		t.Error("builder mutated the original client")
	}
	if derived.BaseURL != "https://ghe.example.com/api/v3" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", derived.BaseURL)
	}
}

func TestListCommitsParams(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/web/commits" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("per_page") != "100" || q.Get("page") != "2" || q.Get("sha") != "main" {
			t.Errorf("query = %v", q)
		}
		if q.Get("since") != "2025-01-01T00:00:00Z" {
			t.Errorf("since = %q", q.Get("since"))
		}
		if q.Get("until") != "" {
			t.Errorf("until should be absent, got %q", q.Get("until"))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = io.WriteString(w, `[{"sha":"abc123","html_url":"https://github.com/acme/web/commit/abc123",
			"commit":{"author":{"name":"Ada","email":"ada@x","date":"2025-01-02T10:00:00Z"},"message":"fix login"},
			"author":{"login":"ada"}}]`)
	})

	commits, err := c.ListCommits(context.Background(), 2, ListOptions{SHA: "main", Since: &since})
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("got %d commits", len(commits))
	}
	got := commits[0]
	if got.SHA != "abc123" || got.Message() != "fix login" || got.AuthorName() != "Ada" {
		t.Errorf("commit = %+v", got)
	}
	if !got.Timestamp().Equal(time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", got.Timestamp())
	}
}

func TestListCommitsWithoutToken(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		_, _ = io.WriteString(w, `[]`)
	})
	commits, err := c.ListCommits(context.Background(), 1, ListOptions{})
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	if len(commits) != 0 {
		t.Errorf("expected empty page, got %d", len(commits))
	}
}

func TestGetCommitDetail(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/web/commits/abc123" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"sha":"abc123","commit":{"message":"m"},
			"files":[{"filename":"src/a.go","status":"modified","additions":3,"deletions":1},
			         {"filename":"old.go","status":"removed","additions":0,"deletions":20}],
			"stats":{"additions":3,"deletions":21,"total":24}}`)
	})
	commit, err := c.GetCommitDetail(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetCommitDetail: %v", err)
	}
	if len(commit.Files) != 2 {
		t.Fatalf("files = %+v", commit.Files)
	}
	if commit.Files[1].ChangeType() != types.ChangeRemoved {
		t.Errorf("ChangeType = %q", commit.Files[1].ChangeType())
	}
	if commit.Stats == nil || commit.Stats.Total != 24 {
		t.Errorf("stats = %+v", commit.Stats)
	}
}

func TestDetailThrottle(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"sha":"x"}`)
	}).WithDetailDelay(100 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.GetCommitDetail(context.Background(), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 190*time.Millisecond {
		t.Errorf("3 detail calls took %v, want >= ~200ms of throttling", elapsed)
	}
}

func TestRateLimitRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
	}{
		{"429", http.StatusTooManyRequests, map[string]string{"Retry-After": "0"}},
		{"403 exhausted", http.StatusForbidden, map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.FormatInt(time.Now().Unix(), 10),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) == 1 {
					for k, v := range tt.header {
						w.Header().Set(k, v)
					}
					w.WriteHeader(tt.status)
					return
				}
				_, _ = io.WriteString(w, `[]`)
			})
			if _, err := c.ListCommits(context.Background(), 1, ListOptions{}); err != nil {
				t.Fatalf("ListCommits: %v", err)
			}
			if n := atomic.LoadInt32(&calls); n != 2 {
				t.Errorf("calls = %d, want 2", n)
			}
		})
	}
}

func TestForbiddenNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("X-RateLimit-Remaining", "42")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"Resource not accessible"}`)
	})
	_, err := c.TestConnection(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("TestConnection() = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.RateLimited() {
		t.Errorf("APIError = %+v", apiErr)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestTestConnection(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/web" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"full_name":"acme/web","default_branch":"trunk"}`)
	})
	repo, err := c.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if repo.DefaultBranch != "trunk" {
		t.Errorf("DefaultBranch = %q", repo.DefaultBranch)
	}
}

func TestContextCancellation(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ListCommits(ctx, 1, ListOptions{}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
