package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arii/leaderops/cmd/leaderops/commands"
	"github.com/arii/leaderops/logger"
)

var rootCmd = &cobra.Command{
	Use:   "leaderops",
	Short: "leaderops - PR verification against the shared integration branch",
	Long: `leaderops - Pull-request verification orchestrator.

Each open PR against the integration branch is isolated into its own git
worktree, rebased onto the latest base, built and tested, and the result is
reported back on the PR. Branch, PR, issue, and automation-session
correlations are tracked in a durable index.

Available commands:
  verify  - Verify one PR, a list of PRs, or all open PRs
  index   - Query and maintain the correlation index
  session - Manage remote automation work sessions
  status  - Show the workstream dashboard
  config  - Manage leaderops configuration

Examples:
  leaderops verify 160          # Verify PR #160
  leaderops verify --all -w 4   # Verify all open PRs, 4 workers
  leaderops index lookup 160    # Resolve #160 to its branch and session
  leaderops status              # Correlated sessions/PRs/issues dashboard`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(commands.VerifyCmd)
	rootCmd.AddCommand(commands.IndexCmd)
	rootCmd.AddCommand(commands.SessionCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
