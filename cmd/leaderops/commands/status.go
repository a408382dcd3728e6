package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arii/leaderops/config"
	"github.com/arii/leaderops/errors"
	"github.com/arii/leaderops/session"
	"github.com/arii/leaderops/workstream"
)

// StatusCmd represents the status command
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the workstream dashboard",
	Long: `Correlate sessions, open PRs, and open issues into workstreams and
render them as a dashboard, newest activity first, with the orphaned-issue
backlog underneath.

Examples:
  leaderops status                        # Dashboard
  leaderops status --export ws.csv       # Also export the correlation index`,
	RunE: runStatus,
}

var statusExportFlag string

func init() {
	StatusCmd.Flags().StringVar(&statusExportFlag, "export", "", "Export the correlation index as CSV to a file")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	reviews := newReviewClient(cfg)
	prs, err := reviews.ListOpenPRs(cmd.Context(), true)
	if err != nil {
		return err
	}
	issues, err := reviews.ListOpenIssues(cmd.Context())
	if err != nil {
		return err
	}

	var sessions []session.Session
	if client := newSessionClient(cfg); client != nil {
		sessions, err = client.List(cmd.Context())
		if err != nil {
			return err
		}
	}

	now := time.Now()
	streams := workstream.Correlate(sessions, prs, issues, now)
	backlog := workstream.Backlog(issues, streams)
	workstream.Render(streams, backlog, now)

	if statusExportFlag == "" {
		return nil
	}

	store, database, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	f, err := os.Create(statusExportFlag)
	if err != nil {
		return errors.Wrapf(err, "create %s", statusExportFlag)
	}
	defer f.Close()
	return store.ExportCSV(cmd.Context(), f)
}
