// Package pipeline orchestrates the verification of one pull request:
// isolate, rebase, publish, build, test, report, release.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arii/leaderops/errors"
	"github.com/arii/leaderops/index"
	"github.com/arii/leaderops/review"
	"github.com/arii/leaderops/runner"
	"github.com/arii/leaderops/session"
	"github.com/arii/leaderops/vcs"
)

// Outcome is the terminal result of one pipeline run.
type Outcome string

const (
	OutcomeVerified       Outcome = "verified"
	OutcomeRebaseConflict Outcome = "rebase-conflict"
	OutcomeBuildFailed    Outcome = "build-failed"
	OutcomeTestFailed     Outcome = "test-failed"
	OutcomeReportFailed   Outcome = "report-failed"
	OutcomeAborted        Outcome = "aborted"
)

// State tracks pipeline progress for observability.
type State string

const (
	StateQueued            State = "queued"
	StateWorkspacePrepared State = "workspace-prepared"
	StateRebased           State = "rebased"
	StateTested            State = "tested"
	StateReported          State = "reported"
	StateReleased          State = "released"
)

// Run is the record of one verification run. Immutable once it carries
// a terminal outcome; reruns get a fresh Run with a new ID.
type Run struct {
	ID         string
	PRNumber   int
	Branch     string
	State      State
	Outcome    Outcome
	BaseSHA    string
	Steps      []runner.StepResult
	LogExcerpt string
	FixSession string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Workspaces is the slice of the VCS gateway the pipeline consumes.
type Workspaces interface {
	PrepareWorkspace(ctx context.Context, branch string) (*vcs.Workspace, error)
	Rebase(ctx context.Context, ws *vcs.Workspace, baseBranch string) (vcs.RebaseResult, error)
	Publish(ctx context.Context, ws *vcs.Workspace) error
	Release(ctx context.Context, ws *vcs.Workspace)
}

// Verifier runs the configured verification stages in a workspace.
type Verifier interface {
	Run(ctx context.Context, dir string) (*runner.Result, error)
}

// Recorder persists branch correlations.
type Recorder interface {
	Upsert(ctx context.Context, rec index.Record) error
}

// FixSessions creates remote fix sessions for failing branches. May be
// nil when no session service is configured.
type FixSessions interface {
	Create(ctx context.Context, req session.CreateRequest) (*session.Session, error)
}

// Orchestrator drives one PR through the pipeline state machine.
type Orchestrator struct {
	workspaces Workspaces
	reviews    review.Gateway
	verifier   Verifier
	recorder   Recorder
	sessions   FixSessions
	baseBranch string
	log        *zap.SugaredLogger
}

// NewOrchestrator wires the pipeline. sessions may be nil.
func NewOrchestrator(
	workspaces Workspaces,
	reviews review.Gateway,
	verifier Verifier,
	recorder Recorder,
	sessions FixSessions,
	baseBranch string,
	log *zap.SugaredLogger,
) *Orchestrator {
	return &Orchestrator{
		workspaces: workspaces,
		reviews:    reviews,
		verifier:   verifier,
		recorder:   recorder,
		sessions:   sessions,
		baseBranch: baseBranch,
		log:        log,
	}
}

// VerifyPR runs the full pipeline for one PR. The returned Run always
// carries a terminal outcome; err is non-nil only alongside it for
// infrastructure failures worth surfacing to the caller.
func (o *Orchestrator) VerifyPR(ctx context.Context, prNumber int) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		PRNumber:  prNumber,
		State:     StateQueued,
		StartedAt: time.Now(),
	}
	o.log.Infow("Pipeline started", "run_id", run.ID, "pr", prNumber)

	pr, err := o.reviews.GetPR(ctx, prNumber)
	if err != nil {
		return o.abort(ctx, run, errors.Wrapf(err, "resolve PR #%d", prNumber))
	}
	run.Branch = pr.HeadRefName

	ws, err := o.workspaces.PrepareWorkspace(ctx, run.Branch)
	if err != nil {
		return o.abort(ctx, run, errors.Wrapf(err, "prepare workspace for %s", run.Branch))
	}
	run.State = StateWorkspacePrepared

	// Workspaces are released on every exit path, including panics in
	// verification commands.
	defer func() {
		o.workspaces.Release(context.WithoutCancel(ctx), ws)
		run.State = StateReleased
	}()

	rebase, err := o.workspaces.Rebase(ctx, ws, o.baseBranch)
	if err != nil {
		return o.abort(ctx, run, errors.Wrapf(err, "rebase %s", run.Branch))
	}
	run.BaseSHA = rebase.BaseSHA
	if rebase.Conflicted {
		return o.finishConflict(ctx, run)
	}
	run.State = StateRebased

	// Publish before verifying so the remote branch is exactly what the
	// report describes.
	if err := o.workspaces.Publish(ctx, ws); err != nil {
		return o.abort(ctx, run, errors.Wrapf(err, "publish %s", run.Branch))
	}

	result, err := o.verifier.Run(ctx, ws.Root)
	if err != nil {
		return o.abort(ctx, run, errors.Wrapf(err, "run verification for %s", run.Branch))
	}
	run.Steps = result.Steps
	run.State = StateTested

	if result.Passed() {
		run.Outcome = OutcomeVerified
	} else {
		failed := result.FailedStep()
		run.LogExcerpt = failed.Log
		if failed.Name == "test" {
			run.Outcome = OutcomeTestFailed
		} else {
			run.Outcome = OutcomeBuildFailed
		}
		o.createFixSession(ctx, run, failed)
	}

	return o.report(ctx, run)
}

// finishConflict handles the rebase-conflict outcome: the branch is
// flipped to draft with an explanatory comment, and the conflicted tree
// is never published.
func (o *Orchestrator) finishConflict(ctx context.Context, run *Run) (*Run, error) {
	run.Outcome = OutcomeRebaseConflict
	o.createFixSession(ctx, run, nil)
	return o.report(ctx, run)
}

// report posts the verification comment, flips draft state, records the
// correlation, and finalizes the run.
func (o *Orchestrator) report(ctx context.Context, run *Run) (*Run, error) {
	body := BuildComment(run, o.baseBranch)
	if err := o.reviews.PostComment(ctx, run.PRNumber, body); err != nil {
		o.log.Errorw("Failed to post verification comment",
			"run_id", run.ID, "pr", run.PRNumber, "error", err)
		run.Outcome = OutcomeReportFailed
	} else {
		run.State = StateReported
	}

	ready := run.Outcome == OutcomeVerified
	if err := o.reviews.SetReady(ctx, run.PRNumber, ready); err != nil {
		o.log.Warnw("Failed to update PR draft state",
			"run_id", run.ID, "pr", run.PRNumber, "ready", ready, "error", err)
	}

	o.record(ctx, run)
	return o.finish(run), nil
}

// abort converts an infrastructure failure into the aborted outcome.
// Once the branch is known the abort is also posted on the PR, so every
// outcome except a failed PR lookup leaves a visible explanation.
func (o *Orchestrator) abort(ctx context.Context, run *Run, err error) (*Run, error) {
	run.Outcome = OutcomeAborted
	run.LogExcerpt = err.Error()
	o.log.Errorw("Pipeline aborted", "run_id", run.ID, "pr", run.PRNumber, "error", err)
	if run.Branch != "" {
		ctx = context.WithoutCancel(ctx)
		if postErr := o.reviews.PostComment(ctx, run.PRNumber, buildAbortComment(run)); postErr != nil {
			o.log.Errorw("Failed to post abort comment",
				"run_id", run.ID, "pr", run.PRNumber, "error", postErr)
		}
		o.record(ctx, run)
	}
	return o.finish(run), err
}

func (o *Orchestrator) finish(run *Run) *Run {
	run.FinishedAt = time.Now()
	o.log.Infow("Pipeline finished",
		"run_id", run.ID,
		"pr", run.PRNumber,
		"branch", run.Branch,
		"outcome", run.Outcome,
		"duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	)
	return run
}

func (o *Orchestrator) record(ctx context.Context, run *Run) {
	pr := run.PRNumber
	if err := o.recorder.Upsert(ctx, index.Record{Branch: run.Branch, PRNumber: &pr}); err != nil {
		o.log.Errorw("Failed to record correlation",
			"run_id", run.ID, "branch", run.Branch, "error", err)
	}
}

// createFixSession asks the session service to work on the failure.
// Best effort: a session failure never changes the run outcome.
func (o *Orchestrator) createFixSession(ctx context.Context, run *Run, failed *runner.StepResult) {
	if o.sessions == nil {
		return
	}

	var prompt string
	if failed != nil {
		prompt = fmt.Sprintf(
			"Verification of branch %s (PR #%d) failed at the %s step.\n\nOutput tail:\n%s\n\nFix the failure and push to the same branch.",
			run.Branch, run.PRNumber, failed.Name, failed.Log)
	} else {
		prompt = fmt.Sprintf(
			"Branch %s (PR #%d) has rebase conflicts against %s. Resolve the conflicts and push to the same branch.",
			run.Branch, run.PRNumber, o.baseBranch)
	}

	sess, err := o.sessions.Create(ctx, session.CreateRequest{
		Prompt: prompt,
		Branch: run.Branch,
		Title:  fmt.Sprintf("Fix PR #%d (%s)", run.PRNumber, run.Outcome),
	})
	if err != nil {
		o.log.Warnw("Failed to create fix session", "run_id", run.ID, "branch", run.Branch, "error", err)
		return
	}

	run.FixSession = sess.Name
	sid := sess.Name
	pr := run.PRNumber
	if err := o.recorder.Upsert(ctx, index.Record{Branch: run.Branch, PRNumber: &pr, SessionID: &sid}); err != nil {
		o.log.Errorw("Failed to record fix session", "run_id", run.ID, "branch", run.Branch, "error", err)
	}
}
