package config

import "github.com/arii/leaderops/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Repo.BaseBranch == "" {
		return errors.New("repo.base_branch cannot be empty")
	}
	if c.Repo.Remote == "" {
		return errors.New("repo.remote cannot be empty")
	}

	// Verify stages may be empty (stage is skipped and surfaced in the
	// report), but timeouts and worker counts have hard lower bounds.
	if c.Verify.StepTimeoutSeconds <= 0 {
		return errors.Newf("verify.step_timeout_seconds must be > 0, got %d", c.Verify.StepTimeoutSeconds)
	}
	if c.Verify.MaxLogBytes <= 0 {
		return errors.Newf("verify.max_log_bytes must be > 0, got %d", c.Verify.MaxLogBytes)
	}
	if c.Verify.Workers < 1 {
		return errors.Newf("verify.workers must be >= 1, got %d", c.Verify.Workers)
	}

	if c.Session.TimeoutSeconds <= 0 {
		return errors.Newf("session.timeout_seconds must be > 0, got %d", c.Session.TimeoutSeconds)
	}
	if c.Session.PollSeconds <= 0 {
		return errors.Newf("session.poll_seconds must be > 0, got %d", c.Session.PollSeconds)
	}

	return nil
}
