package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arii/leaderops/batch"
	"github.com/arii/leaderops/config"
	"github.com/arii/leaderops/errors"
	"github.com/arii/leaderops/logger"
	"github.com/arii/leaderops/pipeline"
	"github.com/arii/leaderops/runner"
	"github.com/arii/leaderops/vcs"
)

// VerifyCmd represents the verify command
var VerifyCmd = &cobra.Command{
	Use:   "verify [pr-number...]",
	Short: "Verify PRs against the integration branch",
	Long: `Verify pull requests: isolate each branch in a git worktree, rebase it
onto the integration branch, publish the rebased branch, run the configured
install/build/test stages, and report the outcome as a PR comment.

Examples:
  leaderops verify 160            # Verify PR #160
  leaderops verify 160 161 162    # Verify a specific set
  leaderops verify --all          # Verify all open non-bot PRs
  leaderops verify --all -w 4     # Same, four PRs in parallel`,
	RunE: runVerify,
}

var (
	verifyAllFlag     bool
	verifyWorkersFlag int
	verifyBaseFlag    string
)

func init() {
	VerifyCmd.Flags().BoolVar(&verifyAllFlag, "all", false, "Verify all open non-bot PRs")
	VerifyCmd.Flags().IntVarP(&verifyWorkersFlag, "workers", "w", 0, "Concurrent verifications (default from config)")
	VerifyCmd.Flags().StringVar(&verifyBaseFlag, "base", "", "Integration branch to rebase onto (default from config)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	if !verifyAllFlag && len(args) == 0 {
		return errors.New("pass PR numbers or --all")
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	baseBranch := cfg.Repo.BaseBranch
	if verifyBaseFlag != "" {
		baseBranch = verifyBaseFlag
	}
	workers := cfg.Verify.Workers
	if verifyWorkersFlag > 0 {
		workers = verifyWorkersFlag
	}

	store, database, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	verifier, err := runner.New(cfg.Verify, logger.Logger)
	if err != nil {
		return err
	}

	gateway := vcs.NewGateway(cfg.Repo.Dir, cfg.Repo.Remote, cfg.Repo.WorktreesDir, logger.Logger)
	reviews := newReviewClient(cfg)

	var sessions pipeline.FixSessions
	if c := newSessionClient(cfg); c != nil {
		sessions = c
	}

	orch := pipeline.NewOrchestrator(gateway, reviews, verifier, store, sessions, baseBranch, logger.Logger)
	scheduler := batch.NewScheduler(orch, reviews, workers, logger.Logger)

	ctx := cmd.Context()
	var summary *batch.Summary
	if verifyAllFlag {
		summary, err = scheduler.VerifyAll(ctx)
	} else {
		numbers := make([]int, 0, len(args))
		for _, arg := range args {
			n, convErr := strconv.Atoi(arg)
			if convErr != nil {
				return errors.Newf("invalid PR number %q", arg)
			}
			numbers = append(numbers, n)
		}
		summary, err = scheduler.Verify(ctx, numbers)
	}
	if err != nil {
		return err
	}

	summary.Render()

	if stats := gateway.Stats(); stats.Acquired != stats.Released {
		logger.Warnw("Workspace accounting mismatch",
			"acquired", stats.Acquired, "released", stats.Released)
	}

	if summary.ExitCode() != 0 {
		return errors.Newf("%d of %d PRs need attention", len(summary.NeedsAttention()), len(summary.Runs))
	}
	return nil
}
