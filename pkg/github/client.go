// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	gogithub "github.com/google/go-github/v43/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"
	"k8s.io/klog/v2"

	"github.com/repodigest/repodigest/pkg/fault"
)

// DefaultRawHost serves raw blob downloads for the default code host
const DefaultRawHost = "raw.githubusercontent.com"

const jitterCap = 150 * time.Millisecond

// Options configures the remote adapter's host names and retry policy
type Options struct {
	Host           string
	RawHost        string
	MaxRetries     int
	AttemptTimeout time.Duration
	Backoff        []time.Duration
}

func (o *Options) withDefaults() {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.RawHost == "" {
		o.RawHost = DefaultRawHost
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if len(o.Backoff) == 0 {
		o.Backoff = []time.Duration{500 * time.Millisecond, time.Second}
	}
}

// Client is the authenticated-or-anonymous adapter over the code host's REST
// API. All calls go through a shared retry wrapper with per-attempt
// wall-clock caps. Metadata responses are cached per RepoRef for the
// client's lifetime, which is one request.
type Client struct {
	gh         *gogithub.Client
	httpClient *http.Client
	opts       Options

	metaMu    sync.Mutex
	metaCache map[RepoRef]*RepoMetadata
}

// NewClient creates an adapter on top of the given HTTP client
func NewClient(httpClient *http.Client, opts Options) *Client {
	opts.withDefaults()
	return &Client{
		gh:         gogithub.NewClient(httpClient),
		httpClient: httpClient,
		opts:       opts,
		metaCache:  map[RepoRef]*RepoMetadata{},
	}
}

// NewHTTPClient builds the request-scoped HTTP client: an in-memory caching
// transport, wrapped with an OAuth2 bearer token when one is configured.
// Nothing persists beyond the client.
func NewHTTPClient(ctx context.Context, token string) *http.Client {
	cached := httpcache.NewMemoryCacheTransport().Client()
	if token == "" {
		return cached
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, cached)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

// VerifyRepoAccess confirms the repository exists and is publicly readable
func (c *Client) VerifyRepoAccess(ctx context.Context, ref RepoRef) error {
	label := fmt.Sprintf("verify_repo_access:%s", ref)
	var private bool
	err := c.runWithRetry(ctx, label, func(ctx context.Context) error {
		repo, _, err := c.gh.Repositories.Get(ctx, ref.Owner, ref.Repo)
		if err != nil {
			return err
		}
		private = repo.GetPrivate()
		return nil
	})
	if err != nil {
		return err
	}
	if private {
		return fault.New(fault.Inaccessible, "Repository is not publicly accessible in unauthenticated mode.").
			WithStatus(http.StatusForbidden).WithContext(ref.String())
	}
	return nil
}

// Metadata returns the repository metadata, cached per RepoRef
func (c *Client) Metadata(ctx context.Context, ref RepoRef) (*RepoMetadata, error) {
	c.metaMu.Lock()
	if cached, ok := c.metaCache[ref]; ok {
		c.metaMu.Unlock()
		return cached, nil
	}
	c.metaMu.Unlock()

	label := fmt.Sprintf("get_repo_metadata:%s", ref)
	var repo *gogithub.Repository
	err := c.runWithRetry(ctx, label, func(ctx context.Context) error {
		var err error
		repo, _, err = c.gh.Repositories.Get(ctx, ref.Owner, ref.Repo)
		return err
	})
	if err != nil {
		return nil, err
	}
	if repo.GetName() == "" || repo.GetDefaultBranch() == "" {
		return nil, fault.New(fault.Shape, "Unexpected metadata response shape.").WithContext(label)
	}
	meta := &RepoMetadata{
		Owner:         repo.GetOwner().GetLogin(),
		Repo:          repo.GetName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Description:   repo.GetDescription(),
		Topics:        repo.Topics,
		Homepage:      repo.GetHomepage(),
	}
	if meta.Owner == "" {
		meta.Owner = ref.Owner
	}

	c.metaMu.Lock()
	c.metaCache[ref] = meta
	c.metaMu.Unlock()
	return meta, nil
}

// Languages returns the language byte map for the repository
func (c *Client) Languages(ctx context.Context, ref RepoRef) (map[string]int, error) {
	label := fmt.Sprintf("get_languages:%s", ref)
	var langs map[string]int
	err := c.runWithRetry(ctx, label, func(ctx context.Context) error {
		var err error
		langs, _, err = c.gh.Repositories.ListLanguages(ctx, ref.Owner, ref.Repo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return langs, nil
}

// Tree fetches the recursive git tree at the default branch. The response is
// decoded from raw JSON so that list responses and mappings with tree/items/
// data wrappers are all accepted, and both size and size_bytes entry fields
// are honored.
func (c *Client) Tree(ctx context.Context, ref RepoRef) ([]TreeEntry, error) {
	meta, err := c.Metadata(ctx, ref)
	if err != nil {
		return nil, err
	}

	label := fmt.Sprintf("get_tree:%s", ref)
	u := fmt.Sprintf("repos/%s/%s/git/trees/%s?recursive=1",
		ref.Owner, ref.Repo, url.PathEscape(meta.DefaultBranch))
	var raw json.RawMessage
	err = c.runWithRetry(ctx, label, func(ctx context.Context) error {
		req, err := c.gh.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		_, err = c.gh.Do(ctx, req, &raw)
		return err
	})
	if err != nil {
		return nil, err
	}

	items, err := extractTreeItems(raw)
	if err != nil {
		return nil, err
	}

	var entries []TreeEntry
	for _, item := range items {
		if item.Path == "" || (item.Type != "blob" && item.Type != "tree") {
			continue
		}
		downloadURL := ""
		if item.Type == "blob" {
			downloadURL = fmt.Sprintf("https://%s/%s/%s/%s/%s",
				c.opts.RawHost, ref.Owner, ref.Repo, meta.DefaultBranch, item.Path)
		}
		entries = append(entries, TreeEntry{
			Path:        item.Path,
			Type:        item.Type,
			Size:        item.sizeBytes(),
			APIURL:      item.URL,
			DownloadURL: downloadURL,
		})
	}
	return entries, nil
}

// Readme fetches and decodes the repository README. A 404 yields (nil, nil).
func (c *Client) Readme(ctx context.Context, ref RepoRef) (*ReadmeData, error) {
	label := fmt.Sprintf("get_readme:%s", ref)
	var content *gogithub.RepositoryContent
	err := c.runWithRetry(ctx, label, func(ctx context.Context) error {
		var err error
		content, _, err = c.gh.Repositories.GetReadme(ctx, ref.Owner, ref.Repo, nil)
		return err
	})
	if err != nil {
		if fault.StatusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	text, err := content.GetContent()
	if err != nil {
		return nil, fault.New(fault.Shape, "Unable to decode GitHub content payload.").WithContext(label)
	}
	sourceURL := content.GetHTMLURL()
	if sourceURL == "" {
		sourceURL = content.GetDownloadURL()
	}
	return &ReadmeData{SourceURL: sourceURL, Content: text, ByteSize: len(text)}, nil
}

// FileContent fetches one file by path at the default branch
func (c *Client) FileContent(ctx context.Context, ref RepoRef, path string) (*FileContent, error) {
	meta, err := c.Metadata(ctx, ref)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("get_file_content:%s:%s", ref, path)
	var file *gogithub.RepositoryContent
	err = c.runWithRetry(ctx, label, func(ctx context.Context) error {
		var dir []*gogithub.RepositoryContent
		var err error
		file, dir, _, err = c.gh.Repositories.GetContents(ctx, ref.Owner, ref.Repo, path,
			&gogithub.RepositoryContentGetOptions{Ref: meta.DefaultBranch})
		if err != nil {
			return err
		}
		if file == nil && dir != nil {
			return fault.New(fault.Shape, "Expected file content response, got directory listing.").WithContext(path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	text, err := file.GetContent()
	if err != nil {
		return nil, fault.New(fault.Shape, "Unable to decode GitHub content payload.").WithContext(path)
	}
	sourceURL := file.GetHTMLURL()
	if sourceURL == "" {
		sourceURL = file.GetDownloadURL()
	}
	return &FileContent{Path: path, SourceURL: sourceURL, Content: text, ByteSize: len(text)}, nil
}

// GetBytes downloads a raw URL with the shared retry policy
func (c *Client) GetBytes(ctx context.Context, rawURL, label string) ([]byte, error) {
	var body []byte
	err := c.runWithRetry(ctx, label, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return &httpStatusError{status: resp.StatusCode, url: rawURL}
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// DownloadTextFile fetches a raw URL and validates it as UTF-8 text.
// Payloads containing a NUL byte are rejected as likely binary.
func (c *Client) DownloadTextFile(ctx context.Context, path, downloadURL string) (*FileContent, error) {
	body, err := c.GetBytes(ctx, downloadURL, fmt.Sprintf("download:%s", path))
	if err != nil {
		return nil, err
	}
	if containsNUL(body) {
		return nil, fault.New(fault.Shape, "Likely binary content.").WithContext(path)
	}
	if !utf8.Valid(body) {
		return nil, fault.New(fault.Shape, "Unable to decode file as UTF-8.").WithContext(path)
	}
	text := string(body)
	return &FileContent{Path: path, SourceURL: downloadURL, Content: text, ByteSize: len(text)}, nil
}

type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("GET %s returned HTTP %d", e.url, e.status)
}

func containsNUL(body []byte) bool {
	for _, b := range body {
		if b == 0 {
			return true
		}
	}
	return false
}

// runWithRetry executes op with the configured retry policy. Each attempt is
// wall-clock capped through its context; backoff follows the deterministic
// schedule plus additive jitter in [0, 150ms).
func (c *Client) runWithRetry(ctx context.Context, label string, op func(ctx context.Context) error) error {
	attempts := c.opts.MaxRetries + 1
	var last *fault.Error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		ferr := classify(err, label)
		if !ferr.Retryable {
			return ferr
		}
		last = ferr
		if attempt < attempts {
			klog.V(6).Infof("retrying %s after attempt %d: %v", label, attempt, ferr)
			select {
			case <-time.After(c.backoffFor(attempt)):
			case <-ctx.Done():
				return fault.New(fault.Timeout, "GitHub request timed out.").WithContext(label)
			}
		}
	}
	return last
}

func (c *Client) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(c.opts.Backoff) {
		idx = len(c.opts.Backoff) - 1
	}
	return c.opts.Backoff[idx] + time.Duration(rand.Int63n(int64(jitterCap)))
}

// classify maps an upstream failure to a tagged fault:
// 404 and plain 403 are terminal inaccessible, 403 with a rate-limit signal
// is retryable rate_limited, 400/401 are terminal upstream, 429/502/503/504
// and network errors are retryable upstream, deadline expiry is a retryable
// timeout.
func classify(err error, label string) *fault.Error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		if fe.Context == "" {
			fe.Context = label
		}
		return fe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fault.New(fault.Timeout, "GitHub request timed out.").WithContext(label).AsRetryable()
	}

	var rateErr *gogithub.RateLimitError
	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fault.New(fault.RateLimited, "GitHub rate limit reached.").
			WithStatus(http.StatusForbidden).WithContext(label).AsRetryable()
	}

	status := 0
	message := err.Error()
	var ghErr *gogithub.ErrorResponse
	var statusErr *httpStatusError
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		status = ghErr.Response.StatusCode
		message = ghErr.Message
	} else if errors.As(err, &statusErr) {
		status = statusErr.status
	}

	switch {
	case status == http.StatusNotFound:
		return fault.New(fault.Inaccessible, "Repository is not accessible.").
			WithStatus(status).WithContext(label)
	case status == http.StatusForbidden && isRateLimitSignal(message):
		return fault.New(fault.RateLimited, "GitHub rate limit reached.").
			WithStatus(status).WithContext(label).AsRetryable()
	case status == http.StatusForbidden:
		return fault.New(fault.Inaccessible, "Repository is not accessible in unauthenticated mode.").
			WithStatus(status).WithContext(label)
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return fault.New(fault.Upstream, "Non-retryable GitHub failure.").
			WithStatus(status).WithContext(label)
	case status == http.StatusTooManyRequests || status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return fault.New(fault.Upstream, "Retryable GitHub upstream failure.").
			WithStatus(status).WithContext(label).AsRetryable()
	case status != 0:
		return fault.New(fault.Upstream, "Non-retryable GitHub failure.").
			WithStatus(status).WithContext(label)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return fault.New(fault.Timeout, "GitHub request timed out.").WithContext(label).AsRetryable()
		}
		return fault.New(fault.Upstream, "Network failure while talking to GitHub.").
			WithContext(label).AsRetryable()
	}

	return fault.Newf(fault.Upstream, "Unexpected GitHub client error.").
		WithContext(fmt.Sprintf("%s: %v", label, err))
}

func isRateLimitSignal(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit")
}

// rawTreeItem tolerates both snake_case size fields the code host may emit
type rawTreeItem struct {
	Path      string `json:"path"`
	Type      string `json:"type"`
	Size      int    `json:"size"`
	SizeBytes int    `json:"size_bytes"`
	URL       string `json:"url"`
}

func (r rawTreeItem) sizeBytes() int {
	if r.Size != 0 {
		return r.Size
	}
	return r.SizeBytes
}

// extractTreeItems probes the tree response for the first iterable payload:
// a top-level list, or a mapping with tree, items, data, data.tree or
// data.items.
func extractTreeItems(raw json.RawMessage) ([]rawTreeItem, error) {
	var items []rawTreeItem
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fault.New(fault.Shape, "Unexpected tree response shape.").
			WithContext(fmt.Sprintf("payload=%s", clip(raw, 64)))
	}

	for _, key := range []string{"tree", "items", "data"} {
		candidate, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(candidate, &items); err == nil {
			return items, nil
		}
		if key != "data" {
			continue
		}
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(candidate, &nested); err != nil {
			continue
		}
		for _, nestedKey := range []string{"tree", "items"} {
			if inner, ok := nested[nestedKey]; ok {
				if err := json.Unmarshal(inner, &items); err == nil {
					return items, nil
				}
			}
		}
	}
	return nil, fault.New(fault.Shape, "Unexpected tree response shape.").
		WithContext(fmt.Sprintf("payload=%s", clip(raw, 64)))
}

func clip(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
