package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arii/leaderops/errors"
	"github.com/arii/leaderops/index"
	"github.com/arii/leaderops/review"
	"github.com/arii/leaderops/runner"
	"github.com/arii/leaderops/session"
	"github.com/arii/leaderops/vcs"
)

type fakeWorkspaces struct {
	prepareErr error
	rebase     vcs.RebaseResult
	rebaseErr  error
	publishErr error

	prepared []string
	released []string
	publishes int
}

func (f *fakeWorkspaces) PrepareWorkspace(ctx context.Context, branch string) (*vcs.Workspace, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	f.prepared = append(f.prepared, branch)
	return &vcs.Workspace{Branch: branch, Root: "/tmp/ws/" + branch}, nil
}

func (f *fakeWorkspaces) Rebase(ctx context.Context, ws *vcs.Workspace, base string) (vcs.RebaseResult, error) {
	if f.rebaseErr != nil {
		return vcs.RebaseResult{}, f.rebaseErr
	}
	if !f.rebase.Conflicted {
		ws.BaseSHA = f.rebase.BaseSHA
	}
	return f.rebase, nil
}

func (f *fakeWorkspaces) Publish(ctx context.Context, ws *vcs.Workspace) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.publishes++
	return nil
}

func (f *fakeWorkspaces) Release(ctx context.Context, ws *vcs.Workspace) {
	f.released = append(f.released, ws.Branch)
}

type fakeReviews struct {
	pr         *review.PullRequest
	getErr     error
	commentErr error

	comments []string
	ready    []bool
}

func (f *fakeReviews) ListOpenPRs(ctx context.Context, excludeBots bool) ([]review.PullRequest, error) {
	if f.pr == nil {
		return nil, nil
	}
	return []review.PullRequest{*f.pr}, nil
}

func (f *fakeReviews) GetPR(ctx context.Context, number int) (*review.PullRequest, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.pr, nil
}

func (f *fakeReviews) PostComment(ctx context.Context, number int, body string) error {
	if f.commentErr != nil {
		return f.commentErr
	}
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeReviews) SetReady(ctx context.Context, number int, ready bool) error {
	f.ready = append(f.ready, ready)
	return nil
}

func (f *fakeReviews) ListOpenIssues(ctx context.Context) ([]review.Issue, error) { return nil, nil }
func (f *fakeReviews) GetIssue(ctx context.Context, number int) (*review.Issue, error) {
	return nil, errors.ErrNotFound
}

type fakeVerifier struct {
	result *runner.Result
	err    error
	runs   int
}

func (f *fakeVerifier) Run(ctx context.Context, dir string) (*runner.Result, error) {
	f.runs++
	return f.result, f.err
}

type fakeRecorder struct {
	records []index.Record
}

func (f *fakeRecorder) Upsert(ctx context.Context, rec index.Record) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeSessions struct {
	created []session.CreateRequest
}

func (f *fakeSessions) Create(ctx context.Context, req session.CreateRequest) (*session.Session, error) {
	f.created = append(f.created, req)
	return &session.Session{Name: "sessions/fix-1", State: session.StateRunning}, nil
}

func passingResult() *runner.Result {
	return &runner.Result{Steps: []runner.StepResult{
		{Name: "install", Status: runner.StepPassed, Duration: time.Second},
		{Name: "build", Status: runner.StepPassed, Duration: 2 * time.Second},
		{Name: "test", Status: runner.StepPassed, Duration: 3 * time.Second},
	}}
}

func failingTestResult() *runner.Result {
	return &runner.Result{Steps: []runner.StepResult{
		{Name: "install", Status: runner.StepPassed, Duration: time.Second},
		{Name: "build", Status: runner.StepPassed, Duration: 2 * time.Second},
		{Name: "test", Status: runner.StepFailed, Duration: 3 * time.Second, Log: "2 passed, 1 failed"},
	}}
}

type fixture struct {
	workspaces *fakeWorkspaces
	reviews    *fakeReviews
	verifier   *fakeVerifier
	recorder   *fakeRecorder
	sessions   *fakeSessions
	orch       *Orchestrator
}

func newFixture(withSessions bool) *fixture {
	f := &fixture{
		workspaces: &fakeWorkspaces{rebase: vcs.RebaseResult{BaseSHA: "abc123"}},
		reviews: &fakeReviews{pr: &review.PullRequest{
			Number: 160, Title: "Add login flow", HeadRefName: "feature/login", IsDraft: true,
		}},
		verifier: &fakeVerifier{result: passingResult()},
		recorder: &fakeRecorder{},
	}
	var sessions FixSessions
	if withSessions {
		f.sessions = &fakeSessions{}
		sessions = f.sessions
	}
	f.orch = NewOrchestrator(f.workspaces, f.reviews, f.verifier, f.recorder, sessions, "leader", zap.NewNop().Sugar())
	return f
}

func TestVerifyPR(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path verifies, reports, and releases", func(t *testing.T) {
		f := newFixture(false)

		run, err := f.orch.VerifyPR(ctx, 160)
		require.NoError(t, err)

		assert.Equal(t, OutcomeVerified, run.Outcome)
		assert.Equal(t, "feature/login", run.Branch)
		assert.Equal(t, "abc123", run.BaseSHA)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, StateReleased, run.State)

		// Published before verification ran
		assert.Equal(t, 1, f.workspaces.publishes)
		assert.Equal(t, 1, f.verifier.runs)

		// Report posted, PR flipped to ready
		require.Len(t, f.reviews.comments, 1)
		assert.Contains(t, f.reviews.comments[0], "All checks passed")
		assert.Equal(t, []bool{true}, f.reviews.ready)

		// Workspace released, correlation recorded
		assert.Equal(t, []string{"feature/login"}, f.workspaces.released)
		require.Len(t, f.recorder.records, 1)
		assert.Equal(t, 160, *f.recorder.records[0].PRNumber)
	})

	t.Run("rebase conflict flips to draft and never publishes", func(t *testing.T) {
		f := newFixture(false)
		f.workspaces.rebase = vcs.RebaseResult{Conflicted: true, BaseSHA: "abc123"}

		run, err := f.orch.VerifyPR(ctx, 160)
		require.NoError(t, err)

		assert.Equal(t, OutcomeRebaseConflict, run.Outcome)
		assert.Zero(t, f.workspaces.publishes, "conflicted branch must never be pushed")
		assert.Zero(t, f.verifier.runs, "verification skipped on conflict")

		require.Len(t, f.reviews.comments, 1)
		assert.Contains(t, f.reviews.comments[0], "conflicts")
		assert.Equal(t, []bool{false}, f.reviews.ready)
		assert.Equal(t, []string{"feature/login"}, f.workspaces.released)
	})

	t.Run("test failure reports and creates fix session", func(t *testing.T) {
		f := newFixture(true)
		f.verifier.result = failingTestResult()

		run, err := f.orch.VerifyPR(ctx, 160)
		require.NoError(t, err)

		assert.Equal(t, OutcomeTestFailed, run.Outcome)
		assert.Equal(t, "sessions/fix-1", run.FixSession)

		require.Len(t, f.sessions.created, 1)
		assert.Equal(t, "feature/login", f.sessions.created[0].Branch)
		assert.Contains(t, f.sessions.created[0].Prompt, "test step")

		// Comment carries the table, failure log, and session link
		require.Len(t, f.reviews.comments, 1)
		assert.Contains(t, f.reviews.comments[0], "| Check | Status | Duration |")
		assert.Contains(t, f.reviews.comments[0], "1 failed")
		assert.Contains(t, f.reviews.comments[0], "sessions/fix-1")
		assert.Equal(t, []bool{false}, f.reviews.ready)

		// Session recorded in the index
		var sessionRecorded bool
		for _, rec := range f.recorder.records {
			if rec.SessionID != nil && *rec.SessionID == "sessions/fix-1" {
				sessionRecorded = true
			}
		}
		assert.True(t, sessionRecorded)
	})

	t.Run("build step failure maps to build-failed", func(t *testing.T) {
		f := newFixture(false)
		f.verifier.result = &runner.Result{Steps: []runner.StepResult{
			{Name: "install", Status: runner.StepPassed},
			{Name: "build", Status: runner.StepFailed, Log: "compile error"},
			{Name: "test", Status: runner.StepSkipped, Log: "skipped: earlier step failed"},
		}}

		run, err := f.orch.VerifyPR(ctx, 160)
		require.NoError(t, err)
		assert.Equal(t, OutcomeBuildFailed, run.Outcome)
	})

	t.Run("comment failure yields report-failed without re-running", func(t *testing.T) {
		f := newFixture(false)
		f.reviews.commentErr = errors.New("HTTP 502")

		run, err := f.orch.VerifyPR(ctx, 160)
		require.NoError(t, err)

		assert.Equal(t, OutcomeReportFailed, run.Outcome)
		assert.Equal(t, 1, f.verifier.runs, "verification is never re-run for reporting failures")
		assert.Equal(t, []string{"feature/login"}, f.workspaces.released)
	})

	t.Run("prepare failure aborts with nothing to release", func(t *testing.T) {
		f := newFixture(false)
		f.workspaces.prepareErr = errors.Wrap(errors.ErrRemoteBranchNotFound, "origin/feature/login")

		run, err := f.orch.VerifyPR(ctx, 160)
		require.Error(t, err)
		assert.Equal(t, OutcomeAborted, run.Outcome)
		assert.Empty(t, f.workspaces.released)

		// The branch was resolved, so the abort still shows up on the PR.
		require.Len(t, f.reviews.comments, 1)
		assert.Contains(t, f.reviews.comments[0], "aborted")
		assert.Contains(t, f.reviews.comments[0], "prepare workspace")
	})

	t.Run("PR lookup failure aborts silently", func(t *testing.T) {
		f := newFixture(false)
		f.reviews.getErr = errors.New("gh pr view: HTTP 502")

		run, err := f.orch.VerifyPR(ctx, 160)
		require.Error(t, err)
		assert.Equal(t, OutcomeAborted, run.Outcome)
		assert.Empty(t, f.reviews.comments, "no branch resolved, nowhere to comment")
		assert.Empty(t, f.recorder.records)
	})

	t.Run("rebase infrastructure error aborts, comments, and releases", func(t *testing.T) {
		f := newFixture(false)
		f.workspaces.rebaseErr = errors.New("git fetch: network unreachable")

		run, err := f.orch.VerifyPR(ctx, 160)
		require.Error(t, err)
		assert.Equal(t, OutcomeAborted, run.Outcome)
		assert.Equal(t, []string{"feature/login"}, f.workspaces.released)

		require.Len(t, f.reviews.comments, 1)
		assert.Contains(t, f.reviews.comments[0], "aborted")
		assert.Contains(t, f.reviews.comments[0], "network unreachable")
	})

	t.Run("publish rejection aborts with explanation", func(t *testing.T) {
		f := newFixture(false)
		f.workspaces.publishErr = errors.Wrap(errors.ErrPushRejected, "push origin feature/login")

		run, err := f.orch.VerifyPR(ctx, 160)
		require.Error(t, err)
		assert.Equal(t, OutcomeAborted, run.Outcome)
		assert.Zero(t, f.verifier.runs, "rejected publish stops verification")
		assert.Equal(t, []string{"feature/login"}, f.workspaces.released)

		require.Len(t, f.reviews.comments, 1)
		assert.Contains(t, f.reviews.comments[0], "publish feature/login")
	})
}

func TestBuildComment(t *testing.T) {
	t.Run("passing run", func(t *testing.T) {
		run := &Run{Outcome: OutcomeVerified, Steps: passingResult().Steps}
		body := BuildComment(run, "leader")
		assert.Contains(t, body, "### Automated Verification Results")
		assert.Contains(t, body, "| install | ✅ passed | 1s |")
		assert.Contains(t, body, "All checks passed")
		assert.NotContains(t, body, "<details>")
	})

	t.Run("failing run collapses the log", func(t *testing.T) {
		run := &Run{Outcome: OutcomeTestFailed, Steps: failingTestResult().Steps}
		body := BuildComment(run, "leader")
		assert.Contains(t, body, "**Verification Failed at: test**")
		assert.Contains(t, body, "<details><summary>Failure Logs</summary>")
		assert.Contains(t, body, "2 passed, 1 failed")
	})

	t.Run("skipped step is surfaced", func(t *testing.T) {
		run := &Run{Outcome: OutcomeVerified, Steps: []runner.StepResult{
			{Name: "install", Status: runner.StepSkipped, Log: "skipped: no command configured"},
			{Name: "build", Status: runner.StepPassed, Duration: time.Second},
			{Name: "test", Status: runner.StepPassed, Duration: time.Second},
		}}
		body := BuildComment(run, "leader")
		assert.Contains(t, body, "⏭️ skipped")
	})

	t.Run("conflict comment explains without a table", func(t *testing.T) {
		run := &Run{Outcome: OutcomeRebaseConflict}
		body := BuildComment(run, "leader")
		assert.Contains(t, body, "conflicts")
		assert.Contains(t, body, "`leader`")
		assert.NotContains(t, body, "| Check |")
	})
}
