package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arii/leaderops/errors"
)

// testRepo is a bare "remote" plus a local clone, with a base branch and
// helpers for committing to branches.
type testRepo struct {
	t      *testing.T
	remote string
	clone  string
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	tmpDir := t.TempDir()
	remote := filepath.Join(tmpDir, "remote.git")
	clone := filepath.Join(tmpDir, "clone")

	mustGit(t, tmpDir, "init", "--bare", "-b", "leader", remote)

	seed := filepath.Join(tmpDir, "seed")
	mustGit(t, tmpDir, "init", "-b", "leader", seed)
	require.NoError(t, os.WriteFile(filepath.Join(seed, "README.md"), []byte("base\n"), 0o644))
	mustGit(t, seed, "add", ".")
	mustGit(t, seed, "commit", "-m", "initial commit")
	mustGit(t, seed, "remote", "add", "origin", remote)
	mustGit(t, seed, "push", "origin", "leader")

	mustGit(t, tmpDir, "clone", remote, clone)
	return &testRepo{t: t, remote: remote, clone: clone}
}

// commitToBranch adds a commit with the given file content on branch,
// branching from leader, and pushes it.
func (r *testRepo) commitToBranch(branch, file, content string) {
	r.t.Helper()
	work := filepath.Join(r.t.TempDir(), "work")
	mustGit(r.t, filepath.Dir(work), "clone", r.remote, work)
	mustGit(r.t, work, "checkout", "-B", branch, "origin/leader")
	require.NoError(r.t, os.WriteFile(filepath.Join(work, file), []byte(content), 0o644))
	mustGit(r.t, work, "add", ".")
	mustGit(r.t, work, "commit", "-m", "change "+file)
	mustGit(r.t, work, "push", "-f", "origin", branch)
}

// advanceBase adds a commit directly to leader and pushes it.
func (r *testRepo) advanceBase(file, content string) {
	r.t.Helper()
	work := filepath.Join(r.t.TempDir(), "work")
	mustGit(r.t, filepath.Dir(work), "clone", r.remote, work)
	mustGit(r.t, work, "checkout", "leader")
	require.NoError(r.t, os.WriteFile(filepath.Join(work, file), []byte(content), 0o644))
	mustGit(r.t, work, "add", ".")
	mustGit(r.t, work, "commit", "-m", "advance "+file)
	mustGit(r.t, work, "push", "origin", "leader")
}

func (r *testRepo) remoteTip(branch string) string {
	r.t.Helper()
	return mustGit(r.t, r.remote, "rev-parse", "refs/heads/"+branch)
}

func (r *testRepo) gateway() *Gateway {
	worktrees := filepath.Join(r.t.TempDir(), "worktrees")
	return NewGateway(r.clone, "origin", worktrees, zap.NewNop().Sugar())
}

func TestPrepareWorkspace(t *testing.T) {
	t.Run("creates worktree tracking the remote branch", func(t *testing.T) {
		repo := newTestRepo(t)
		repo.commitToBranch("feature/alpha", "alpha.txt", "a\n")
		g := repo.gateway()

		ws, err := g.PrepareWorkspace(context.Background(), "feature/alpha")
		require.NoError(t, err)
		defer g.Release(context.Background(), ws)

		assert.Equal(t, "feature/alpha", ws.Branch)
		_, err = os.Stat(filepath.Join(ws.Root, "alpha.txt"))
		assert.NoError(t, err)
	})

	t.Run("missing remote branch fails with sentinel", func(t *testing.T) {
		repo := newTestRepo(t)
		g := repo.gateway()

		_, err := g.PrepareWorkspace(context.Background(), "feature/ghost")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrRemoteBranchNotFound))

		// Failed prepare does not leak the branch lock
		assert.Equal(t, g.Stats().Acquired, g.Stats().Released)
	})

	t.Run("branch deleted upstream fails even with a stale tracking ref", func(t *testing.T) {
		repo := newTestRepo(t)
		repo.commitToBranch("feature/alpha", "alpha.txt", "a\n")
		g := repo.gateway()
		ctx := context.Background()

		// Seed the clone's remote-tracking ref, then delete upstream.
		mustGit(t, repo.clone, "fetch", "origin")
		mustGit(t, repo.clone, "push", "origin", "--delete", "feature/alpha")

		_, err := g.PrepareWorkspace(ctx, "feature/alpha")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrRemoteBranchNotFound))
	})

	t.Run("same branch is mutually exclusive", func(t *testing.T) {
		repo := newTestRepo(t)
		repo.commitToBranch("feature/alpha", "alpha.txt", "a\n")
		g := repo.gateway()

		ws, err := g.PrepareWorkspace(context.Background(), "feature/alpha")
		require.NoError(t, err)
		defer g.Release(context.Background(), ws)

		_, err = g.PrepareWorkspace(context.Background(), "feature/alpha")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrWorkspaceBusy))
	})

	t.Run("prepare after release reuses the branch", func(t *testing.T) {
		repo := newTestRepo(t)
		repo.commitToBranch("feature/alpha", "alpha.txt", "a\n")
		g := repo.gateway()
		ctx := context.Background()

		ws, err := g.PrepareWorkspace(ctx, "feature/alpha")
		require.NoError(t, err)
		g.Release(ctx, ws)

		ws2, err := g.PrepareWorkspace(ctx, "feature/alpha")
		require.NoError(t, err)
		g.Release(ctx, ws2)

		assert.Equal(t, 2, g.Stats().Acquired)
		assert.Equal(t, 2, g.Stats().Released)
	})
}

func TestRebase(t *testing.T) {
	t.Run("clean rebase records base SHA", func(t *testing.T) {
		repo := newTestRepo(t)
		repo.commitToBranch("feature/alpha", "alpha.txt", "a\n")
		repo.advanceBase("base.txt", "b\n")
		g := repo.gateway()
		ctx := context.Background()

		ws, err := g.PrepareWorkspace(ctx, "feature/alpha")
		require.NoError(t, err)
		defer g.Release(ctx, ws)

		res, err := g.Rebase(ctx, ws, "leader")
		require.NoError(t, err)
		assert.False(t, res.Conflicted)
		assert.Equal(t, repo.remoteTip("leader"), res.BaseSHA)
		assert.Equal(t, res.BaseSHA, ws.BaseSHA)

		// Rebased tree contains the base commit's file
		_, err = os.Stat(filepath.Join(ws.Root, "base.txt"))
		assert.NoError(t, err)
	})

	t.Run("conflict aborts and leaves remote unchanged", func(t *testing.T) {
		repo := newTestRepo(t)
		repo.commitToBranch("feature/alpha", "README.md", "branch version\n")
		repo.advanceBase("README.md", "base version\n")
		g := repo.gateway()
		ctx := context.Background()

		tipBefore := repo.remoteTip("feature/alpha")

		ws, err := g.PrepareWorkspace(ctx, "feature/alpha")
		require.NoError(t, err)
		defer g.Release(ctx, ws)

		res, err := g.Rebase(ctx, ws, "leader")
		require.NoError(t, err)
		assert.True(t, res.Conflicted)
		assert.Empty(t, ws.BaseSHA)

		// Worktree is clean after the abort
		status := mustGit(t, ws.Root, "status", "--porcelain")
		assert.Empty(t, status)

		// Conflicted branch was never pushed
		assert.Equal(t, tipBefore, repo.remoteTip("feature/alpha"))
	})
}

func TestPublish(t *testing.T) {
	t.Run("force-pushes the rebased branch", func(t *testing.T) {
		repo := newTestRepo(t)
		repo.commitToBranch("feature/alpha", "alpha.txt", "a\n")
		repo.advanceBase("base.txt", "b\n")
		g := repo.gateway()
		ctx := context.Background()

		ws, err := g.PrepareWorkspace(ctx, "feature/alpha")
		require.NoError(t, err)
		defer g.Release(ctx, ws)

		_, err = g.Rebase(ctx, ws, "leader")
		require.NoError(t, err)
		require.NoError(t, g.Publish(ctx, ws))

		localTip := mustGit(t, ws.Root, "rev-parse", "HEAD")
		assert.Equal(t, localTip, repo.remoteTip("feature/alpha"))
	})
}

func TestRelease(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		repo := newTestRepo(t)
		repo.commitToBranch("feature/alpha", "alpha.txt", "a\n")
		g := repo.gateway()
		ctx := context.Background()

		ws, err := g.PrepareWorkspace(ctx, "feature/alpha")
		require.NoError(t, err)

		g.Release(ctx, ws)
		g.Release(ctx, ws)

		assert.Equal(t, 1, g.Stats().Acquired)
		assert.Equal(t, 1, g.Stats().Released)

		_, err = os.Stat(ws.Root)
		assert.True(t, os.IsNotExist(err), "workspace directory should be gone")
	})
}

func TestRemoteTip(t *testing.T) {
	repo := newTestRepo(t)
	repo.commitToBranch("feature/alpha", "alpha.txt", "a\n")
	g := repo.gateway()

	// RemoteTip reads the clone's remote-tracking refs, so fetch first.
	mustGit(t, repo.clone, "fetch", "origin")

	tip, err := g.RemoteTip("feature/alpha")
	require.NoError(t, err)
	assert.Equal(t, repo.remoteTip("feature/alpha"), tip)

	_, err = g.RemoteTip("feature/ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRemoteBranchNotFound))
}
