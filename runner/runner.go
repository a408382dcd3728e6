// Package runner executes the configured verification stages (install,
// build, test) inside an isolated workspace.
package runner

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/arii/leaderops/config"
	"github.com/arii/leaderops/errors"
)

// StepStatus is the result of one verification stage.
type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records the outcome of a single stage. Log holds the tail
// of the combined output, bounded by the configured byte limit.
type StepResult struct {
	Name     string
	Status   StepStatus
	Duration time.Duration
	Log      string
	TimedOut bool
}

// Result is the outcome of a full verification run.
type Result struct {
	Steps []StepResult
}

// Passed reports whether every non-skipped step passed.
func (r *Result) Passed() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return false
		}
	}
	return true
}

// FailedStep returns the first failed step, or nil.
func (r *Result) FailedStep() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Status == StepFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

type step struct {
	name    string
	command string
	// scanMarkers applies the failure-marker patterns to this step's
	// output. Install and build are judged by exit code alone; only the
	// test step gets marker scanning, since some test harnesses exit 0
	// while reporting failures in output.
	scanMarkers bool
}

// Runner runs verification stages with per-step timeouts and
// failure-marker scanning.
type Runner struct {
	steps       []step
	markers     []*regexp.Regexp
	stepTimeout time.Duration
	maxLogBytes int
	log         *zap.SugaredLogger
}

// New builds a Runner from the verify configuration. Failure markers
// are compiled up front so a bad pattern fails at startup, not mid-run.
func New(cfg config.VerifyConfig, log *zap.SugaredLogger) (*Runner, error) {
	markers := make([]*regexp.Regexp, 0, len(cfg.FailureMarkers))
	for _, pattern := range cfg.FailureMarkers {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "compile failure marker %q", pattern)
		}
		markers = append(markers, re)
	}

	return &Runner{
		steps: []step{
			{name: "install", command: cfg.Install},
			{name: "build", command: cfg.Build},
			{name: "test", command: cfg.Test, scanMarkers: true},
		},
		markers:     markers,
		stepTimeout: time.Duration(cfg.StepTimeoutSeconds) * time.Second,
		maxLogBytes: cfg.MaxLogBytes,
		log:         log,
	}, nil
}

// Run executes the stages in order inside dir. An empty command string
// marks the stage skipped-by-config; it is surfaced in the result, not
// treated as a pass. A failed stage short-circuits the stages after it.
func (r *Runner) Run(ctx context.Context, dir string) (*Result, error) {
	result := &Result{}
	failed := false

	for _, s := range r.steps {
		if s.command == "" {
			result.Steps = append(result.Steps, StepResult{
				Name:   s.name,
				Status: StepSkipped,
				Log:    "skipped: no command configured",
			})
			continue
		}
		if failed {
			result.Steps = append(result.Steps, StepResult{
				Name:   s.name,
				Status: StepSkipped,
				Log:    "skipped: earlier step failed",
			})
			continue
		}

		sr, err := r.runStep(ctx, dir, s)
		if err != nil {
			return nil, err
		}
		result.Steps = append(result.Steps, sr)
		if sr.Status == StepFailed {
			failed = true
			r.log.Warnw("Verification step failed",
				"step", s.name,
				"dir", dir,
				"timed_out", sr.TimedOut,
			)
		}
	}

	return result, nil
}

func (r *Runner) runStep(ctx context.Context, dir string, s step) (StepResult, error) {
	words, err := shellquote.Split(s.command)
	if err != nil {
		return StepResult{}, errors.Wrapf(err, "parse %s command %q", s.name, s.command)
	}
	if len(words) == 0 {
		return StepResult{Name: s.name, Status: StepSkipped, Log: "skipped: no command configured"}, nil
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()

	r.log.Infow("Running verification step", "step", s.name, "command", s.command)
	start := time.Now()

	cmd := exec.CommandContext(stepCtx, words[0], words[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "CI=true")
	out, runErr := cmd.CombinedOutput()

	sr := StepResult{
		Name:     s.name,
		Status:   StepPassed,
		Duration: time.Since(start),
		Log:      truncateTail(string(out), r.maxLogBytes),
	}

	if stepCtx.Err() == context.DeadlineExceeded {
		sr.Status = StepFailed
		sr.TimedOut = true
		sr.Log += "\n[timed out after " + r.stepTimeout.String() + "]"
		return sr, nil
	}
	if runErr != nil {
		sr.Status = StepFailed
		return sr, nil
	}

	if s.scanMarkers {
		for _, re := range r.markers {
			if re.MatchString(string(out)) {
				sr.Status = StepFailed
				break
			}
		}
	}

	return sr, nil
}

// truncateTail keeps the last max bytes of s, the end of a build log
// being where the failure summary lives.
func truncateTail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return "[... truncated ...]\n" + s[len(s)-max:]
}
