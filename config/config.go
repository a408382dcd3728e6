// Package config loads and validates leaderops configuration.
package config

// Config represents the full leaderops configuration
type Config struct {
	Repo    RepoConfig    `mapstructure:"repo"`
	Verify  VerifyConfig  `mapstructure:"verify"`
	Index   IndexConfig   `mapstructure:"index"`
	Session SessionConfig `mapstructure:"session"`
}

// RepoConfig describes the repository whose pull requests get verified
type RepoConfig struct {
	Dir          string `mapstructure:"dir"`           // local clone used as the worktree source
	Slug         string `mapstructure:"slug"`          // owner/name, passed to gh --repo
	Remote       string `mapstructure:"remote"`        // default: origin
	BaseBranch   string `mapstructure:"base_branch"`   // shared integration branch PRs target
	WorktreesDir string `mapstructure:"worktrees_dir"` // where isolated workspaces are created
}

// VerifyConfig configures the build/test stages run inside a workspace
type VerifyConfig struct {
	Install            string   `mapstructure:"install"` // empty = stage skipped (surfaced in report)
	Build              string   `mapstructure:"build"`
	Test               string   `mapstructure:"test"`
	FailureMarkers     []string `mapstructure:"failure_markers"`      // regexes matched against test output even on exit 0
	StepTimeoutSeconds int      `mapstructure:"step_timeout_seconds"` // per-stage timeout (default: 900)
	MaxLogBytes        int      `mapstructure:"max_log_bytes"`        // output tail kept for reports (default: 2000)
	Workers            int      `mapstructure:"workers"`              // concurrent PR verifications (default: 1)
}

// IndexConfig configures the correlation index database
type IndexConfig struct {
	Path string `mapstructure:"path"`
}

// SessionConfig configures the remote work-session API
type SessionConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Source         string `mapstructure:"source"`          // source name registered with the session service
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // HTTP timeout (default: 30)
	PollSeconds    int    `mapstructure:"poll_seconds"`    // session monitor poll interval (default: 30)
}
