package vcs

import (
	"context"
	"os/exec"
	"strings"

	"github.com/arii/leaderops/errors"
)

// runGit executes one git command in dir and returns its combined output.
// Variable so tests can intercept or instrument git invocations.
var runGit = func(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
