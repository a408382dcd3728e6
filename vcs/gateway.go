// Package vcs manages isolated git worktree workspaces for verifying
// branches against a shared integration branch.
package vcs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/arii/leaderops/errors"
)

// Workspace is an isolated checkout of one branch, backed by a git
// worktree of the shared clone.
type Workspace struct {
	Branch string
	Root   string

	// BaseSHA is the commit of the integration branch the workspace was
	// rebased onto. Empty until Rebase succeeds.
	BaseSHA string

	released bool
}

// RebaseResult reports the outcome of replaying a branch onto the base.
type RebaseResult struct {
	Conflicted bool
	BaseSHA    string
}

// Stats reports workspace lifecycle counters, used to verify that every
// prepared workspace is eventually released.
type Stats struct {
	Acquired int
	Released int
}

// Gateway performs branch and worktree operations against one shared
// clone. Mutations go through the git CLI; ref inspection uses go-git.
type Gateway struct {
	repoDir      string
	remote       string
	worktreesDir string
	log          *zap.SugaredLogger

	mu    sync.Mutex
	busy  map[string]bool
	stats Stats

	// fetchMu serializes fetches so concurrent pipelines never race on
	// the shared clone's remote-tracking refs.
	fetchMu sync.Mutex
}

// NewGateway creates a Gateway operating on the clone at repoDir,
// creating workspaces under worktreesDir.
func NewGateway(repoDir, remote, worktreesDir string, log *zap.SugaredLogger) *Gateway {
	return &Gateway{
		repoDir:      repoDir,
		remote:       remote,
		worktreesDir: worktreesDir,
		log:          log,
		busy:         make(map[string]bool),
	}
}

// PrepareWorkspace creates a fresh worktree for branch, replacing any
// stale workspace left over from a previous run. A second concurrent
// call for the same branch fails fast with ErrWorkspaceBusy.
func (g *Gateway) PrepareWorkspace(ctx context.Context, branch string) (*Workspace, error) {
	if err := g.acquire(branch); err != nil {
		return nil, err
	}

	ws, err := g.prepare(ctx, branch)
	if err != nil {
		g.release(branch)
		return nil, err
	}
	return ws, nil
}

func (g *Gateway) prepare(ctx context.Context, branch string) (*Workspace, error) {
	root := filepath.Join(g.worktreesDir, sanitizeBranch(branch))

	// Clear stale registrations before touching the directory, otherwise
	// worktree add refuses paths git still considers in use.
	if _, err := runGit(ctx, g.repoDir, "worktree", "prune"); err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err == nil {
		// Best effort: the directory may not be a registered worktree.
		runGit(ctx, g.repoDir, "worktree", "remove", "--force", root)
		if err := os.RemoveAll(root); err != nil {
			return nil, errors.Wrapf(err, "remove stale workspace %s", root)
		}
	}

	// --prune drops remote-tracking refs for branches deleted upstream,
	// so the existence check below cannot pass against a ghost ref.
	g.fetchMu.Lock()
	_, err := runGit(ctx, g.repoDir, "fetch", "--prune", g.remote)
	g.fetchMu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := g.checkRemoteBranch(branch); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return nil, errors.Wrap(err, "create worktrees directory")
	}

	// Track the remote branch under a fresh local head; when the local
	// branch already exists from an earlier run, reuse it.
	_, err = runGit(ctx, g.repoDir, "worktree", "add", "--track", "-b", branch, root, g.remote+"/"+branch)
	if err != nil {
		var retryErr error
		_, retryErr = runGit(ctx, g.repoDir, "worktree", "add", root, branch)
		if retryErr != nil {
			return nil, err
		}
		// Reused local branch may lag the remote.
		if _, err := runGit(ctx, root, "reset", "--hard", g.remote+"/"+branch); err != nil {
			return nil, err
		}
	}

	g.log.Infow("Workspace prepared", "branch", branch, "root", root)
	return &Workspace{Branch: branch, Root: root}, nil
}

// Rebase replays the workspace branch onto the tip of baseBranch. On
// conflict the rebase is aborted, the tree is left clean, and the
// result reports Conflicted; the branch is never published in that
// state.
func (g *Gateway) Rebase(ctx context.Context, ws *Workspace, baseBranch string) (RebaseResult, error) {
	g.fetchMu.Lock()
	_, err := runGit(ctx, g.repoDir, "fetch", g.remote, baseBranch)
	g.fetchMu.Unlock()
	if err != nil {
		return RebaseResult{}, err
	}

	baseRef := g.remote + "/" + baseBranch
	baseSHA, err := runGit(ctx, ws.Root, "rev-parse", baseRef)
	if err != nil {
		return RebaseResult{}, err
	}
	baseSHA = strings.TrimSpace(baseSHA)

	out, err := runGit(ctx, ws.Root, "rebase", baseRef)
	if err != nil {
		if isConflict(out + err.Error()) {
			if _, abortErr := runGit(ctx, ws.Root, "rebase", "--abort"); abortErr != nil {
				return RebaseResult{}, errors.Wrap(abortErr, "abort conflicted rebase")
			}
			g.log.Warnw("Rebase conflict", "branch", ws.Branch, "base", baseBranch)
			return RebaseResult{Conflicted: true, BaseSHA: baseSHA}, nil
		}
		return RebaseResult{}, err
	}

	ws.BaseSHA = baseSHA
	g.log.Infow("Rebased onto base", "branch", ws.Branch, "base", baseBranch, "base_sha", baseSHA)
	return RebaseResult{BaseSHA: baseSHA}, nil
}

// Publish force-pushes the workspace branch so the remote reflects the
// rebased commits that verification will run against. Only call after a
// clean rebase.
func (g *Gateway) Publish(ctx context.Context, ws *Workspace) error {
	out, err := runGit(ctx, ws.Root, "push", g.remote, ws.Branch, "--force")
	if err != nil {
		if strings.Contains(out, "[rejected]") || strings.Contains(err.Error(), "rejected") {
			return errors.Wrapf(errors.ErrPushRejected, "push %s", ws.Branch)
		}
		return err
	}
	g.log.Infow("Branch published", "branch", ws.Branch)
	return nil
}

// Release removes the workspace and frees the branch lock. Idempotent:
// a second call for the same workspace is a no-op.
func (g *Gateway) Release(ctx context.Context, ws *Workspace) {
	g.mu.Lock()
	if ws.released {
		g.mu.Unlock()
		return
	}
	ws.released = true
	g.mu.Unlock()

	if _, err := runGit(ctx, g.repoDir, "worktree", "remove", "--force", ws.Root); err != nil {
		g.log.Debugw("Worktree remove failed, falling back to RemoveAll", "root", ws.Root, "error", err)
	}
	os.RemoveAll(ws.Root)
	runGit(ctx, g.repoDir, "worktree", "prune")

	g.release(ws.Branch)
	g.log.Infow("Workspace released", "branch", ws.Branch)
}

// RemoteTip returns the commit SHA of the remote-tracking ref for
// branch, from the clone's last fetch.
func (g *Gateway) RemoteTip(branch string) (string, error) {
	repo, err := gogit.PlainOpen(g.repoDir)
	if err != nil {
		return "", errors.Wrapf(err, "open repository %s", g.repoDir)
	}
	ref, err := repo.Reference(plumbing.NewRemoteReferenceName(g.remote, branch), true)
	if err != nil {
		return "", errors.Wrapf(errors.ErrRemoteBranchNotFound, "%s/%s", g.remote, branch)
	}
	return ref.Hash().String(), nil
}

// Stats returns lifecycle counters for prepared and released workspaces.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Gateway) acquire(branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[branch] {
		return errors.Wrapf(errors.ErrWorkspaceBusy, "branch %s", branch)
	}
	g.busy[branch] = true
	g.stats.Acquired++
	return nil
}

func (g *Gateway) release(branch string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[branch] {
		delete(g.busy, branch)
		g.stats.Released++
	}
}

func (g *Gateway) checkRemoteBranch(branch string) error {
	repo, err := gogit.PlainOpen(g.repoDir)
	if err != nil {
		return errors.Wrapf(err, "open repository %s", g.repoDir)
	}
	if _, err := repo.Reference(plumbing.NewRemoteReferenceName(g.remote, branch), true); err != nil {
		return errors.Wrapf(errors.ErrRemoteBranchNotFound, "%s/%s", g.remote, branch)
	}
	return nil
}

// sanitizeBranch maps a branch name to a filesystem-safe directory name.
func sanitizeBranch(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

func isConflict(out string) bool {
	return strings.Contains(out, "CONFLICT") ||
		strings.Contains(out, "could not apply") ||
		strings.Contains(out, "Merge conflict")
}
