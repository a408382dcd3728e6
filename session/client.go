// Package session is an HTTP client for the remote automation-session
// service that drives unattended fix work on failing branches.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arii/leaderops/errors"
	"github.com/arii/leaderops/internal/httpclient"
)

// Client talks to the session API. Requests go through a SaferClient so
// a misconfigured base URL cannot be used to probe internal networks.
type Client struct {
	baseURL string
	apiKey  string
	source  string
	poll    time.Duration
	http    *httpclient.SaferClient
	log     *zap.SugaredLogger
}

// Option adjusts client construction.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client, used by tests
// to reach httptest servers on localhost.
func WithHTTPClient(hc *httpclient.SaferClient) Option {
	return func(c *Client) { c.http = hc }
}

// WithPollInterval overrides the Monitor poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.poll = d }
}

// NewClient creates a session client. source names the repository
// registered with the service (plain name or sources/... ID).
func NewClient(baseURL, apiKey, source string, timeout time.Duration, log *zap.SugaredLogger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		source:  source,
		poll:    30 * time.Second,
		http:    httpclient.New(timeout),
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) request(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+endpoint, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return errors.NewNotFoundError("%s %s: %s", method, endpoint, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("%s %s: HTTP %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrapf(err, "decode %s response", endpoint)
		}
	}
	return nil
}

// resolveSource maps a plain source name to its sources/... identifier.
func (c *Client) resolveSource(ctx context.Context) (string, error) {
	if strings.HasPrefix(c.source, "sources/") {
		return c.source, nil
	}

	var resp struct {
		Sources []Source `json:"sources"`
	}
	endpoint := "sources?filter=" + url.QueryEscape(`name="`+c.source+`"`)
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Sources) == 0 {
		return "", errors.NewNotFoundError("source %q", c.source)
	}
	return resp.Sources[0].ID, nil
}

// Create starts a new session working on req.Branch with req.Prompt.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	sourceID, err := c.resolveSource(ctx)
	if err != nil {
		return nil, err
	}

	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	payload := map[string]interface{}{
		"prompt": req.Prompt,
		"sourceContext": map[string]interface{}{
			"source": sourceID,
			"githubRepoContext": map[string]interface{}{
				"startingBranch": branch,
			},
		},
	}
	if req.Title != "" {
		payload["title"] = req.Title
	}

	var sess Session
	if err := c.request(ctx, http.MethodPost, "sessions", payload, &sess); err != nil {
		return nil, err
	}
	c.log.Infow("Session created", "session", sess.Name, "branch", branch)
	return &sess, nil
}

// Get fetches one session by name (bare ID or sessions/... name).
func (c *Client) Get(ctx context.Context, name string) (*Session, error) {
	var sess Session
	if err := c.request(ctx, http.MethodGet, "sessions/"+bareID(name), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// List returns all sessions, following pagination.
func (c *Client) List(ctx context.Context) ([]Session, error) {
	var all []Session
	pageToken := ""
	for {
		endpoint := "sessions"
		if pageToken != "" {
			endpoint += "?pageToken=" + url.QueryEscape(pageToken)
		}

		var resp struct {
			Sessions      []Session `json:"sessions"`
			NextPageToken string    `json:"nextPageToken"`
		}
		if err := c.request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, err
		}

		all = append(all, resp.Sessions...)
		if resp.NextPageToken == "" {
			return all, nil
		}
		pageToken = resp.NextPageToken
	}
}

// SendMessage sends a follow-up prompt to a running session.
func (c *Client) SendMessage(ctx context.Context, name, text string) error {
	payload := map[string]string{"prompt": text}
	return c.request(ctx, http.MethodPost, "sessions/"+bareID(name)+":sendMessage", payload, nil)
}

// Delete removes a session.
func (c *Client) Delete(ctx context.Context, name string) error {
	return c.request(ctx, http.MethodDelete, "sessions/"+bareID(name), nil, nil)
}

// Monitor polls the session until it reaches a terminal state or the
// context expires. It returns the final session, including any PR URL
// in its outputs.
func (c *Client) Monitor(ctx context.Context, name string) (*Session, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		sess, err := c.Get(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrapf(errors.ErrTimeout, "monitoring session %s", name)
			}
			return nil, err
		}
		if sess.Terminal() {
			c.log.Infow("Session finished", "session", sess.Name, "state", sess.State, "pr_url", sess.PullRequestURL())
			return sess, nil
		}

		c.log.Infow("Session in progress", "session", sess.Name, "state", sess.State)
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(errors.ErrTimeout, "monitoring session %s", name)
		case <-ticker.C:
		}
	}
}

func bareID(name string) string {
	return strings.TrimPrefix(name, "sessions/")
}
