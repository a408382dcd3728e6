package batch

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/arii/leaderops/pipeline"
)

// Summary aggregates the runs of one batch.
type Summary struct {
	Runs []*pipeline.Run
}

// Counts returns the number of runs per outcome.
func (s *Summary) Counts() map[pipeline.Outcome]int {
	counts := make(map[pipeline.Outcome]int)
	for _, run := range s.Runs {
		counts[run.Outcome]++
	}
	return counts
}

// NeedsAttention lists the runs that did not verify cleanly.
func (s *Summary) NeedsAttention() []*pipeline.Run {
	var out []*pipeline.Run
	for _, run := range s.Runs {
		if run.Outcome != pipeline.OutcomeVerified {
			out = append(out, run)
		}
	}
	return out
}

// ExitCode is 0 only when every PR in the batch verified.
func (s *Summary) ExitCode() int {
	if len(s.NeedsAttention()) > 0 {
		return 1
	}
	return 0
}

// Render prints the batch result table to the console.
func (s *Summary) Render() {
	data := pterm.TableData{{"PR", "Branch", "Outcome", "Duration", "Fix Session"}}
	for _, run := range s.Runs {
		data = append(data, []string{
			fmt.Sprintf("#%d", run.PRNumber),
			run.Branch,
			outcomeLabel(run.Outcome),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
			run.FixSession,
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	counts := s.Counts()
	verified := counts[pipeline.OutcomeVerified]
	if attention := s.NeedsAttention(); len(attention) > 0 {
		pterm.Warning.Printfln("%d/%d verified, %d need attention", verified, len(s.Runs), len(attention))
	} else {
		pterm.Success.Printfln("%d/%d verified", verified, len(s.Runs))
	}
}

func outcomeLabel(o pipeline.Outcome) string {
	switch o {
	case pipeline.OutcomeVerified:
		return pterm.Green(string(o))
	case pipeline.OutcomeRebaseConflict, pipeline.OutcomeBuildFailed, pipeline.OutcomeTestFailed:
		return pterm.Red(string(o))
	default:
		return pterm.Yellow(string(o))
	}
}
