package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/httpretry"
	"github.com/storysync/storysync/internal/telemetry"
)

// Client reads commits from one repository.
type Client struct {
	Token      string       // optional personal access token
	Owner      string       // Repository owner (user or org)
	Repo       string       // Repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // Optional custom HTTP client

	retryMaxElapsed time.Duration
	detailLimiter   *rate.Limiter
}

// NewClient creates a new GitHub client. An empty token is allowed; requests
// are then unauthenticated and subject to lower rate limits.
func NewClient(token, owner, repo string) *Client {
	if token == "" {
		debug.Logf("github: no token configured, using unauthenticated requests")
	}
	return &Client{
		Token:   token,
		Owner:   owner,
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: telemetry.Transport(http.DefaultTransport),
		},
		retryMaxElapsed: httpretry.DefaultMaxElapsed,
		detailLimiter:   newLimiter(DefaultDetailDelay),
	}
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func (c *Client) clone() *Client {
	cp := *c
	return &cp
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := c.clone()
	cp.HTTPClient = httpClient
	return cp
}

// WithBaseURL returns a new client with a custom base URL (for testing or GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := c.clone()
	cp.BaseURL = strings.TrimSuffix(baseURL, "/")
	return cp
}

// WithDetailDelay returns a new client whose detail fetches are spaced at
// least delay apart. Zero disables the throttle.
func (c *Client) WithDetailDelay(delay time.Duration) *Client {
	cp := c.clone()
	cp.detailLimiter = newLimiter(delay)
	return cp
}

// WithRetryMaxElapsed bounds the total retry time per request.
func (c *Client) WithRetryMaxElapsed(d time.Duration) *Client {
	cp := c.clone()
	cp.retryMaxElapsed = d
	return cp
}

// repoPath returns the "owner/repo" path segment.
func (c *Client) repoPath() string {
	return url.PathEscape(c.Owner) + "/" + url.PathEscape(c.Repo)
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params url.Values) string {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// ListCommits returns one page (1-based) of up to PageSize commits, newest
// first. An empty page means the history is exhausted. List entries carry no
// file stats.
func (c *Client) ListCommits(ctx context.Context, page int, opts ListOptions) ([]Commit, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{
		"per_page": {strconv.Itoa(PageSize)},
		"page":     {strconv.Itoa(page)},
	}
	if opts.SHA != "" {
		params.Set("sha", opts.SHA)
	}
	if opts.Since != nil {
		params.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.Until != nil {
		params.Set("until", opts.Until.UTC().Format(time.RFC3339))
	}

	var commits []Commit
	if err := c.getJSON(ctx, "/repos/"+c.repoPath()+"/commits", params, &commits); err != nil {
		return nil, fmt.Errorf("list commits page %d: %w", page, err)
	}
	return commits, nil
}

// GetCommitDetail fetches one commit with per-file stats. Calls are
// throttled to the configured detail delay; nothing is cached.
func (c *Client) GetCommitDetail(ctx context.Context, sha string) (*Commit, error) {
	if c.detailLimiter != nil {
		if err := c.detailLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	var commit Commit
	if err := c.getJSON(ctx, "/repos/"+c.repoPath()+"/commits/"+url.PathEscape(sha), nil, &commit); err != nil {
		return nil, fmt.Errorf("get commit %s: %w", shortSHA(sha), err)
	}
	return &commit, nil
}

// TestConnection fetches the repository metadata.
func (c *Client) TestConnection(ctx context.Context) (*Repository, error) {
	var repo Repository
	if err := c.getJSON(ctx, "/repos/"+c.repoPath(), nil, &repo); err != nil {
		return nil, fmt.Errorf("github connection test: %w", err)
	}
	return &repo, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	var body []byte
	err := httpretry.Do(ctx, c.retryMaxElapsed, "github GET "+path, func() error {
		b, err := c.doRequest(ctx, http.MethodGet, path, params)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return httpretry.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Method: http.MethodGet, Path: path, StatusCode: http.StatusOK,
			Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// doRequest performs one HTTP request and classifies the response.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &APIError{Method: method, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	const maxResponseSize = 50 * 1024 * 1024
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &APIError{Method: method, Path: path, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	// GitHub signals rate limiting with 429, or 403 and no remaining quota.
	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
		apiErr.rateLimited = true
		now := time.Now()
		apiErr.retryAfter = httpretry.ParseRetryAfter(resp.Header.Get("Retry-After"), now)
		if apiErr.retryAfter == 0 {
			apiErr.retryAfter = httpretry.ParseResetEpoch(resp.Header.Get("X-RateLimit-Reset"), now)
		}
	}
	return nil, apiErr
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
