// Package review talks to the code-review system through the gh CLI.
package review

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arii/leaderops/errors"
)

const prFields = "number,title,headRefName,isDraft,author,updatedAt,url"

// Gateway is the review-system surface the pipeline consumes.
type Gateway interface {
	ListOpenPRs(ctx context.Context, excludeBots bool) ([]PullRequest, error)
	GetPR(ctx context.Context, number int) (*PullRequest, error)
	PostComment(ctx context.Context, number int, body string) error
	SetReady(ctx context.Context, number int, ready bool) error
	ListOpenIssues(ctx context.Context) ([]Issue, error)
	GetIssue(ctx context.Context, number int) (*Issue, error)
}

// runGH executes one gh invocation and returns stdout. Variable so
// tests can substitute canned responses.
var runGH = func(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, errors.Newf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, errors.Wrapf(err, "gh %s", strings.Join(args, " "))
	}
	return out, nil
}

// GHClient implements Gateway via the gh CLI. All invocations pass
// through a rate limiter so batch runs stay inside API quotas.
type GHClient struct {
	repo    string // owner/name; empty = infer from cwd
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewGHClient creates a client for repo (owner/name). An empty repo
// lets gh infer the repository from the working directory.
func NewGHClient(repo string, log *zap.SugaredLogger) *GHClient {
	return &GHClient{
		repo:    repo,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		log:     log,
	}
}

func (c *GHClient) run(ctx context.Context, args ...string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}
	if c.repo != "" {
		args = append(args, "--repo", c.repo)
	}
	return runGH(ctx, args...)
}

// ListOpenPRs returns the open PRs, optionally filtering out bot
// authors and bot-conventional branches.
func (c *GHClient) ListOpenPRs(ctx context.Context, excludeBots bool) ([]PullRequest, error) {
	out, err := c.run(ctx, "pr", "list", "--state", "open", "--json", prFields)
	if err != nil {
		return nil, err
	}

	var prs []PullRequest
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, errors.Wrap(err, "parse pr list")
	}

	if !excludeBots {
		return prs, nil
	}

	filtered := prs[:0]
	for _, pr := range prs {
		if isBot(pr) {
			c.log.Debugw("Skipping bot PR", "number", pr.Number, "author", pr.Author.Login)
			continue
		}
		filtered = append(filtered, pr)
	}
	return filtered, nil
}

// GetPR fetches one PR by number.
func (c *GHClient) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	out, err := c.run(ctx, "pr", "view", strconv.Itoa(number), "--json", prFields)
	if err != nil {
		return nil, err
	}

	var pr PullRequest
	if err := json.Unmarshal(out, &pr); err != nil {
		return nil, errors.Wrapf(err, "parse pr %d", number)
	}
	return &pr, nil
}

// PostComment posts a comment on the PR.
func (c *GHClient) PostComment(ctx context.Context, number int, body string) error {
	_, err := c.run(ctx, "pr", "comment", strconv.Itoa(number), "--body", body)
	return err
}

// SetReady flips the PR between ready-for-review and draft.
func (c *GHClient) SetReady(ctx context.Context, number int, ready bool) error {
	args := []string{"pr", "ready", strconv.Itoa(number)}
	if !ready {
		args = append(args, "--undo")
	}
	_, err := c.run(ctx, args...)
	return err
}

// ListOpenIssues returns the open issues for workstream correlation.
func (c *GHClient) ListOpenIssues(ctx context.Context) ([]Issue, error) {
	out, err := c.run(ctx, "issue", "list", "--state", "open",
		"--json", "number,title,body,url,updatedAt,labels", "--limit", "200")
	if err != nil {
		return nil, err
	}

	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, errors.Wrap(err, "parse issue list")
	}
	return issues, nil
}

// GetIssue fetches one issue by number.
func (c *GHClient) GetIssue(ctx context.Context, number int) (*Issue, error) {
	out, err := c.run(ctx, "issue", "view", strconv.Itoa(number),
		"--json", "number,title,body,url,updatedAt,labels")
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := json.Unmarshal(out, &issue); err != nil {
		return nil, errors.Wrapf(err, "parse issue %d", number)
	}
	return &issue, nil
}

func isBot(pr PullRequest) bool {
	login := strings.ToLower(pr.Author.Login)
	if pr.Author.IsBot || strings.HasSuffix(login, "[bot]") {
		return true
	}
	branch := strings.ToLower(pr.HeadRefName)
	return strings.HasPrefix(branch, "dependabot/") || strings.HasPrefix(branch, "renovate/")
}
