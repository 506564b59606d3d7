package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/storysync/storysync/internal/httpretry"
	"github.com/storysync/storysync/internal/telemetry"
)

// ErrNotConfigured is returned by NewClient when URL, username or token is
// missing.
var ErrNotConfigured = errors.New("jira client not configured")

// RemoteError is any non-2xx response, or a transport failure (StatusCode 0).
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error

	retryAfter time.Duration
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("jira %s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("jira %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body, 300))
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Temporary reports whether the request is worth retrying: transport
// failures, 429 and 5xx.
func (e *RemoteError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// retryable reports whether a failed request may be sent again. POST is not
// idempotent: a 5xx or a dropped connection may follow a create that
// happened, so POST is repeated only when the server refused it with 429.
func (e *RemoteError) retryable(method string) bool {
	if method == http.MethodPost {
		return e.StatusCode == http.StatusTooManyRequests
	}
	return e.Temporary()
}

// RetryAfter implements httpretry.Hinted.
func (e *RemoteError) RetryAfter() time.Duration { return e.retryAfter }

// Config holds everything NewClient needs. Credentials are read once.
type Config struct {
	URL             string
	Username        string
	APIToken        string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	// HTTPClient overrides the default instrumented client (tests).
	HTTPClient *http.Client
}

// Client provides HTTP access to a Jira instance.
type Client struct {
	baseURL         string
	authHeader      string
	retryMaxElapsed time.Duration
	httpClient      *http.Client
}

// NewClient validates cfg and precomputes the Authorization header.
func NewClient(cfg Config) (*Client, error) {
	var missing []string
	if strings.TrimSpace(cfg.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(cfg.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		missing = append(missing, "api token")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: telemetry.Transport(http.DefaultTransport),
		}
	}

	auth := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.APIToken))
	return &Client{
		baseURL:         strings.TrimSuffix(cfg.URL, "/"),
		authHeader:      "Basic " + auth,
		retryMaxElapsed: cfg.RetryMaxElapsed,
		httpClient:      httpClient,
	}, nil
}

// BaseURL returns the instance URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// issueFields is the default set of fields to request in search/get queries.
const issueFields = "summary,description,status,priority,issuetype,project,assignee,reporter,labels,created,updated"

func (c *Client) fieldsParam(extra []string) string {
	if len(extra) == 0 {
		return issueFields
	}
	return issueFields + "," + strings.Join(extra, ",")
}

// GetIssue fetches a single issue by key (e.g., "PROJ-123"). extraFields
// requests additional custom fields.
func (c *Client) GetIssue(ctx context.Context, key string, extraFields ...string) (*Issue, error) {
	path := fmt.Sprintf("/rest/api/3/issue/%s?fields=%s", url.PathEscape(key), url.QueryEscape(c.fieldsParam(extraFields)))

	var issue Issue
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	return &issue, nil
}

// CreateIssue creates an issue. The create endpoint returns only id, key and
// self; the returned Issue carries just those plus the submitted summary.
func (c *Client) CreateIssue(ctx context.Context, spec IssueSpec) (*Issue, error) {
	fields := make(map[string]interface{}, len(spec.Fields)+3)
	for k, v := range spec.Fields {
		fields[k] = v
	}
	fields["project"] = map[string]string{"key": spec.Project}
	fields["summary"] = spec.Summary
	issueType := spec.IssueType
	if issueType == "" {
		issueType = "Story"
	}
	fields["issuetype"] = map[string]string{"name": issueType}
	delete(fields, "status")

	var created struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Self string `json:"self"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/rest/api/3/issue", map[string]interface{}{"fields": fields}, &created); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	if created.Key == "" {
		return nil, fmt.Errorf("create issue: response carried no key")
	}
	return &Issue{
		ID:     created.ID,
		Key:    created.Key,
		Self:   created.Self,
		Fields: IssueFields{Summary: spec.Summary},
	}, nil
}

// UpdateIssue updates an existing issue by key. Status is never written
// directly; use TransitionTo. Labels are added through the update verb
// instead of replaced, so labels set in Jira survive.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]interface{}) error {
	body := make(map[string]interface{}, len(fields))
	payload := map[string]interface{}{"fields": body}
	for k, v := range fields {
		switch k {
		case "status":
			continue
		case "labels":
			if labels, ok := v.([]string); ok {
				if ops := labelAddOps(labels); len(ops) > 0 {
					payload["update"] = map[string]interface{}{"labels": ops}
				}
				continue
			}
		}
		body[k] = v
	}
	path := "/rest/api/3/issue/" + url.PathEscape(key)
	if err := c.doJSON(ctx, http.MethodPut, path, payload, nil); err != nil {
		return fmt.Errorf("update issue %s: %w", key, err)
	}
	return nil
}

func labelAddOps(labels []string) []map[string]string {
	ops := make([]map[string]string, 0, len(labels))
	for _, l := range labels {
		if l != "" {
			ops = append(ops, map[string]string{"add": l})
		}
	}
	return ops
}

// ListTransitions returns the transitions available from the issue's
// current status.
func (c *Client) ListTransitions(ctx context.Context, key string) ([]Transition, error) {
	var resp struct {
		Transitions []Transition `json:"transitions"`
	}
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "/transitions"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list transitions %s: %w", key, err)
	}
	return resp.Transitions, nil
}

// ApplyTransition moves the issue along the given transition.
func (c *Client) ApplyTransition(ctx context.Context, key, transitionID string) error {
	payload := map[string]interface{}{"transition": map[string]string{"id": transitionID}}
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "/transitions"
	if err := c.doJSON(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("apply transition %s on %s: %w", transitionID, key, err)
	}
	return nil
}

// Search runs a JQL query, paging until maxResults issues were collected or
// the result set is exhausted.
func (c *Client) Search(ctx context.Context, jql string, maxResults int, extraFields ...string) ([]Issue, error) {
	if maxResults <= 0 {
		maxResults = 100
	}
	var all []Issue
	startAt := 0
	for len(all) < maxResults {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		pageSize := min(maxResults-len(all), 100)
		params := url.Values{
			"jql":        {jql},
			"fields":     {c.fieldsParam(extraFields)},
			"startAt":    {fmt.Sprintf("%d", startAt)},
			"maxResults": {fmt.Sprintf("%d", pageSize)},
		}

		var result SearchResult
		if err := c.doJSON(ctx, http.MethodGet, "/rest/api/3/search?"+params.Encode(), nil, &result); err != nil {
			return all, fmt.Errorf("search issues: %w", err)
		}
		all = append(all, result.Issues...)

		if len(result.Issues) == 0 || startAt+len(result.Issues) >= result.Total {
			break
		}
		startAt += len(result.Issues)
	}
	if len(all) > maxResults {
		all = all[:maxResults]
	}
	return all, nil
}

// AddComment posts a plain-text comment.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	payload := map[string]interface{}{"body": PlainTextToADF(text)}
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "/comment"
	if err := c.doJSON(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("add comment to %s: %w", key, err)
	}
	return nil
}

// TestConnection checks credentials against /myself.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionInfo, error) {
	var info ConnectionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/rest/api/3/myself", nil, &info); err != nil {
		return nil, fmt.Errorf("jira connection test: %w", err)
	}
	return &info, nil
}

// doJSON encodes payload, executes the request with retry, and decodes the
// response into out when out is non-nil and the body is non-empty. A POST
// that may have reached the server is returned to the caller unretried.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var respBody []byte
	err := httpretry.Do(ctx, c.retryMaxElapsed, "jira "+method+" "+stripQuery(path), func() error {
		b, err := c.doRequest(ctx, method, path, body)
		if err != nil {
			var rerr *RemoteError
			if !errors.As(err, &rerr) || !rerr.retryable(method) {
				return httpretry.Permanent(err)
			}
			return err
		}
		respBody = b
		return nil
	})
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &RemoteError{Method: method, Path: stripQuery(path), StatusCode: 200, Body: truncate(string(respBody), 300),
			Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// doRequest executes one authenticated HTTP request and returns the body.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "storysync/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Method: method, Path: stripQuery(path), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Method: method, Path: stripQuery(path), Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{
			Method:     method,
			Path:       stripQuery(path),
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			retryAfter: httpretry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return respBody, nil
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
