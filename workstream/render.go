package workstream

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/arii/leaderops/review"
	"github.com/arii/leaderops/session"
)

// Render prints the workstream dashboard and the orphaned-issue backlog.
func Render(streams []Workstream, backlog []review.Issue, now time.Time) {
	pterm.DefaultSection.Println("Active Workstreams")

	data := pterm.TableData{{"Session", "State", "Branch", "PR", "Issue", "Last Activity"}}
	for _, ws := range streams {
		data = append(data, []string{
			orDash(ws.SessionID),
			stateLabel(ws),
			orDash(ws.Branch),
			prLabel(ws.PRNumber),
			issueLabel(ws),
			relativeTime(ws.LastActivity, now),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	if len(backlog) == 0 {
		return
	}

	pterm.DefaultSection.Println("Backlog (unassigned issues)")
	backlogData := pterm.TableData{{"Issue", "Title", "Updated"}}
	for _, issue := range backlog {
		backlogData = append(backlogData, []string{
			fmt.Sprintf("#%d", issue.Number),
			issue.Title,
			relativeTime(issue.UpdatedAt, now),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(backlogData).Render()
}

func stateLabel(ws Workstream) string {
	switch ws.SessionState {
	case session.StateSucceeded:
		return pterm.Green(ws.SessionState)
	case session.StateFailed, session.StateCancelled:
		return pterm.Red(ws.SessionState)
	case session.StateRunning:
		if ws.Stale {
			return pterm.Yellow("RUNNING (stale)")
		}
		return ws.SessionState
	case "":
		return "-"
	}
	return ws.SessionState
}

func prLabel(number int) string {
	if number == 0 {
		return "-"
	}
	return fmt.Sprintf("#%d", number)
}

func issueLabel(ws Workstream) string {
	if ws.IssueNumber == 0 {
		return "-"
	}
	if ws.IssueTitle != "" {
		return fmt.Sprintf("#%d %s", ws.IssueNumber, truncate(ws.IssueTitle, 40))
	}
	return fmt.Sprintf("#%d", ws.IssueNumber)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to max runes. Indexing runes rather than bytes
// keeps multibyte titles from being cut mid-character.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// relativeTime formats t as a coarse age relative to now.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d >= 365*24*time.Hour:
		return fmt.Sprintf("%dy ago", int(d.Hours()/(365*24)))
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
}
