package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/arii/leaderops/runner"
)

// BuildComment renders the verification report posted on the PR.
func BuildComment(run *Run, baseBranch string) string {
	var b strings.Builder
	b.WriteString("### Automated Verification Results\n\n")

	if run.Outcome == OutcomeRebaseConflict {
		fmt.Fprintf(&b, "**Rebase onto `%s` failed with conflicts.** The branch was not modified; rebase locally and resolve the conflicts.\n", baseBranch)
		if run.FixSession != "" {
			fmt.Fprintf(&b, "\nFix session created: `%s`\n", run.FixSession)
		}
		return b.String()
	}

	if len(run.Steps) > 0 {
		b.WriteString("| Check | Status | Duration |\n")
		b.WriteString("|---|---|---|\n")
		for _, s := range run.Steps {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", s.Name, stepStatusLabel(s), formatDuration(s.Duration))
		}
	}

	if failed := failedStep(run.Steps); failed != nil {
		fmt.Fprintf(&b, "\n\n**Verification Failed at: %s**\n", failed.Name)
		if run.FixSession != "" {
			fmt.Fprintf(&b, "Fix session created: `%s`\n", run.FixSession)
		}
		b.WriteString("\n<details><summary>Failure Logs</summary>\n\n```\n")
		b.WriteString(failed.Log)
		b.WriteString("\n```\n</details>")
	} else {
		b.WriteString("\n\nAll checks passed! Ready for review.")
	}

	return b.String()
}

// buildAbortComment explains an infrastructure abort so the PR records
// why no verification result was produced.
func buildAbortComment(run *Run) string {
	var b strings.Builder
	b.WriteString("### Automated Verification Results\n\n")
	fmt.Fprintf(&b, "**Verification of `%s` was aborted before completing.** A new run must be triggered once the underlying problem is resolved.\n", run.Branch)
	b.WriteString("\n<details><summary>Error</summary>\n\n```\n")
	b.WriteString(run.LogExcerpt)
	b.WriteString("\n```\n</details>")
	return b.String()
}

func failedStep(steps []runner.StepResult) *runner.StepResult {
	for i := range steps {
		if steps[i].Status == runner.StepFailed {
			return &steps[i]
		}
	}
	return nil
}

func stepStatusLabel(s runner.StepResult) string {
	switch s.Status {
	case runner.StepPassed:
		return "✅ passed"
	case runner.StepFailed:
		if s.TimedOut {
			return "❌ timed out"
		}
		return "❌ failed"
	case runner.StepSkipped:
		return "⏭️ skipped"
	}
	return string(s.Status)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}
