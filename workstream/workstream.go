// Package workstream correlates sessions, pull requests, and issues
// into a per-branch view of in-flight work.
package workstream

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/arii/leaderops/review"
	"github.com/arii/leaderops/session"
)

// Workstream is one correlated line of work: a session, the PR it
// produced, and the issue it addresses, any of which may be missing.
type Workstream struct {
	SessionID    string
	SessionState string
	SessionTitle string
	Branch       string
	PRNumber     int    // 0 = no PR linked
	PRURL        string
	IssueNumber  int // 0 = no issue linked
	IssueTitle   string
	LastActivity time.Time
	Stale        bool
}

var (
	hashRefPattern  = regexp.MustCompile(`#(\d+)`)
	issueRefPattern = regexp.MustCompile(`(?i)issue[-/](\d+)`)
)

// ExtractIssueNumber finds an issue reference in free text such as a
// branch name or title: "#42" first, then "issue-42"/"issue/42".
func ExtractIssueNumber(text string) int {
	if text == "" {
		return 0
	}
	if m := hashRefPattern.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := issueRefPattern.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

const staleAfter = 24 * time.Hour

// Correlate groups sessions, PRs, and issues into workstreams, sorted
// by last activity, newest first. Every session starts a workstream;
// PRs no session produced are appended as orphans.
func Correlate(sessions []session.Session, prs []review.PullRequest, issues []review.Issue, now time.Time) []Workstream {
	issuesByNumber := make(map[int]review.Issue, len(issues))
	for _, issue := range issues {
		issuesByNumber[issue.Number] = issue
	}
	prsByURL := make(map[string]review.PullRequest, len(prs))
	for _, pr := range prs {
		prsByURL[pr.URL] = pr
	}

	var streams []Workstream
	linkedPRs := make(map[string]bool)

	for i := range sessions {
		s := &sessions[i]
		ws := Workstream{
			SessionID:    s.ID(),
			SessionState: s.State,
			SessionTitle: firstLine(s.Title),
			Branch:       s.StartingBranch(),
			LastActivity: parseTime(s.CreateTime),
		}

		if url := s.PullRequestURL(); url != "" {
			if pr, ok := prsByURL[url]; ok {
				linkedPRs[url] = true
				ws.PRNumber = pr.Number
				ws.PRURL = pr.URL
				ws.Branch = pr.HeadRefName
				if pr.UpdatedAt.After(ws.LastActivity) {
					ws.LastActivity = pr.UpdatedAt
				}
				if n := ExtractIssueNumber(pr.HeadRefName); n != 0 {
					ws.IssueNumber = n
				} else if n := ExtractIssueNumber(pr.Title); n != 0 {
					ws.IssueNumber = n
				}
			}
		}

		if ws.IssueNumber == 0 {
			ws.IssueNumber = ExtractIssueNumber(s.Title)
		}
		if issue, ok := issuesByNumber[ws.IssueNumber]; ok {
			ws.IssueTitle = issue.Title
		}

		ws.Stale = s.State == session.StateRunning &&
			!ws.LastActivity.IsZero() &&
			now.Sub(ws.LastActivity) > staleAfter

		streams = append(streams, ws)
	}

	// PRs with no originating session still represent work in flight.
	for _, pr := range prs {
		if linkedPRs[pr.URL] {
			continue
		}
		ws := Workstream{
			Branch:       pr.HeadRefName,
			PRNumber:     pr.Number,
			PRURL:        pr.URL,
			LastActivity: pr.UpdatedAt,
		}
		if n := ExtractIssueNumber(pr.HeadRefName); n != 0 {
			ws.IssueNumber = n
		} else if n := ExtractIssueNumber(pr.Title); n != 0 {
			ws.IssueNumber = n
		}
		if issue, ok := issuesByNumber[ws.IssueNumber]; ok {
			ws.IssueTitle = issue.Title
		}
		streams = append(streams, ws)
	}

	sort.Slice(streams, func(i, j int) bool {
		return streams[i].LastActivity.After(streams[j].LastActivity)
	})
	return streams
}

// Backlog returns the open issues no workstream references, oldest
// first, so idle capacity has somewhere to go.
func Backlog(issues []review.Issue, streams []Workstream) []review.Issue {
	referenced := make(map[int]bool, len(streams))
	for _, ws := range streams {
		if ws.IssueNumber != 0 {
			referenced[ws.IssueNumber] = true
		}
	}

	var backlog []review.Issue
	for _, issue := range issues {
		if !referenced[issue.Number] {
			backlog = append(backlog, issue)
		}
	}
	sort.Slice(backlog, func(i, j int) bool {
		return backlog[i].UpdatedAt.Before(backlog[j].UpdatedAt)
	})
	return backlog
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

func parseTime(iso string) time.Time {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Time{}
	}
	return t
}
