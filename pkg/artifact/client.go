// Package artifact implements the ArtifactFetcher: the HTTPS client that
// downloads model repository snapshots from the remote artifact
// repository's public API, with variant filtering, resumable downloads,
// bounded-rate progress events, and offline mode.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://huggingface.co"
	defaultUserAgent = "lemonade-gateway"
)

// Client is a thin HTTP client for the remote repository's metadata, tree,
// and file-resolve endpoints.
type Client struct {
	httpClient *http.Client
	userAgent  string
	token      string
	baseURL    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token used for authenticated requests (the
// gateway passes HF_TOKEN here when set).
func WithToken(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.token = token
		}
	}
}

// WithTransport overrides the HTTP transport (used by tests to point at an
// httptest.Server).
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		if transport != nil {
			c.httpClient.Transport = transport
		}
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithBaseURL overrides the default repository host.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// NewClient creates a Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		userAgent:  defaultUserAgent,
		baseURL:    defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RepoMetadata is the decoded response of the repository metadata endpoint.
type RepoMetadata struct {
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
	Tags []string `json:"tags"`
}

// GetMetadata fetches `GET /api/models/{repo_id}`.
func (c *Client) GetMetadata(ctx context.Context, repo string) (*RepoMetadata, error) {
	url := fmt.Sprintf("%s/api/models/%s", c.baseURL, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp, repo); err != nil {
		return nil, err
	}

	var meta RepoMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// ListFiles returns every file in repo at revision, recursively walking
// the tree API.
func (c *Client) ListFiles(ctx context.Context, repo, revision string) ([]RepoFile, error) {
	if revision == "" {
		revision = "main"
	}
	return c.listFilesRecursive(ctx, repo, revision, "")
}

func (c *Client) listFilesRecursive(ctx context.Context, repo, revision, filePath string) ([]RepoFile, error) {
	entries, err := c.listFilesInPath(ctx, repo, revision, filePath)
	if err != nil {
		return nil, err
	}

	var allFiles []RepoFile
	for _, entry := range entries {
		switch entry.Type {
		case "file":
			allFiles = append(allFiles, entry)
		case "directory":
			subFiles, err := c.listFilesRecursive(ctx, repo, revision, entry.Path)
			if err != nil {
				return nil, fmt.Errorf("list files in %s: %w", entry.Path, err)
			}
			allFiles = append(allFiles, subFiles...)
		}
	}
	return allFiles, nil
}

func (c *Client) listFilesInPath(ctx context.Context, repo, revision, filePath string) ([]RepoFile, error) {
	endpointPath := revision
	if filePath != "" {
		endpointPath += "/" + filePath
	}
	url := fmt.Sprintf("%s/api/models/%s/tree/%s", c.baseURL, repo, endpointPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp, repo); err != nil {
		return nil, err
	}

	var files []RepoFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode tree response: %w", err)
	}
	return files, nil
}

// OpenFile issues `GET https://<cdn>/{repo}/resolve/{revision}/{path}`,
// optionally resuming from byte offset resumeFrom via a Range header.
// Returns the body reader, the total content length (resumeFrom +
// remaining bytes, or -1 if unknown), and whether the server honored the
// Range request (false means the body starts from byte 0 regardless of
// resumeFrom).
func (c *Client) OpenFile(ctx context.Context, repo, revision, filename string, resumeFrom int64) (body io.ReadCloser, totalSize int64, resumed bool, err error) {
	if revision == "" {
		revision = "main"
	}
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repo, revision, filename)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, 0, false, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, false, classifyTransportError(err)
	}

	if resp.StatusCode == http.StatusPartialContent {
		total := resp.ContentLength
		if total >= 0 {
			total += resumeFrom
		}
		return resp.Body, total, true, nil
	}

	if err := c.checkResponse(resp, repo); err != nil {
		resp.Body.Close()
		return nil, 0, false, err
	}

	return resp.Body, resp.ContentLength, false, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) checkResponse(resp *http.Response, repo string) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Repo: repo, StatusCode: resp.StatusCode}
	case http.StatusNotFound:
		return &NotFoundError{Repo: repo}
	case http.StatusTooManyRequests:
		return &RateLimitError{Repo: repo}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &TransientError{Repo: repo, StatusCode: resp.StatusCode}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

func classifyTransportError(err error) error {
	return &TransientError{Err: err}
}

// AuthError indicates authentication failure (non-retriable).
type AuthError struct {
	Repo       string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication required for repository %q (status %d)", e.Repo, e.StatusCode)
}

// NotFoundError indicates the repository or file was not found (non-retriable).
type NotFoundError struct {
	Repo string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("repository %q not found", e.Repo)
}

// RateLimitError indicates the client is being rate limited (retriable).
type RateLimitError struct {
	Repo string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited while accessing repository %q", e.Repo)
}

// TransientError wraps a connection reset or 5xx response: retriable with
// backoff.
type TransientError struct {
	Repo       string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient network error: %v", e.Err)
	}
	return fmt.Sprintf("transient server error for repository %q (status %d)", e.Repo, e.StatusCode)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRetriable reports whether err should be retried with backoff.
func IsRetriable(err error) bool {
	switch err.(type) {
	case *RateLimitError, *TransientError:
		return true
	default:
		return false
	}
}

// retryDelay returns the bounded exponential backoff delay for attempt
// (0-indexed).
func retryDelay(attempt int) time.Duration {
	base := 250 * time.Millisecond
	d := base << attempt
	const max = 8 * time.Second
	if d > max {
		d = max
	}
	return d
}
