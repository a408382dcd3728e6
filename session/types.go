package session

// Session states reported by the automation service.
const (
	StateRunning   = "RUNNING"
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
	StateCancelled = "CANCELLED"
)

// Session is one remote automation work session.
type Session struct {
	Name          string        `json:"name"`
	Title         string        `json:"title,omitempty"`
	State         string        `json:"state,omitempty"`
	CreateTime    string        `json:"createTime,omitempty"`
	UpdateTime    string        `json:"updateTime,omitempty"`
	SourceContext SourceContext `json:"sourceContext,omitempty"`
	Outputs       []Output      `json:"outputs,omitempty"`
	Error         *SessionError `json:"error,omitempty"`
}

// ID returns the bare session identifier without the sessions/ prefix.
func (s *Session) ID() string {
	name := s.Name
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}

// Terminal reports whether the session reached a final state.
func (s *Session) Terminal() bool {
	switch s.State {
	case StateSucceeded, StateFailed, StateCancelled, "TERMINATED":
		return true
	}
	return false
}

// PullRequestURL returns the PR link the session produced, if any.
func (s *Session) PullRequestURL() string {
	for _, o := range s.Outputs {
		if o.PullRequest != nil && o.PullRequest.URL != "" {
			return o.PullRequest.URL
		}
	}
	return ""
}

// StartingBranch returns the branch the session was started from.
func (s *Session) StartingBranch() string {
	return s.SourceContext.GithubRepoContext.StartingBranch
}

// SourceContext identifies the repository and branch a session works on.
type SourceContext struct {
	Source            string            `json:"source,omitempty"`
	GithubRepoContext GithubRepoContext `json:"githubRepoContext,omitempty"`
}

// GithubRepoContext carries repo-specific session parameters.
type GithubRepoContext struct {
	StartingBranch string `json:"startingBranch,omitempty"`
}

// Output is one artifact produced by a session.
type Output struct {
	PullRequest *PullRequestOutput `json:"pullRequest,omitempty"`
}

// PullRequestOutput is a PR created by the session.
type PullRequestOutput struct {
	URL string `json:"url,omitempty"`
}

// SessionError carries failure details from the service.
type SessionError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// CreateRequest describes a new session.
type CreateRequest struct {
	Prompt string
	Branch string
	Title  string
}

// Source is a repository registered with the session service.
type Source struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}
