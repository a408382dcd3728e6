package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/arii/leaderops/config"
	"github.com/arii/leaderops/errors"
	"github.com/arii/leaderops/index"
	"github.com/arii/leaderops/session"
)

// SessionCmd represents the session command
var SessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage remote automation work sessions",
	Long: `Manage remote automation work sessions.

Examples:
  leaderops session create --prompt "Fix flaky login test" --branch feature/login
  leaderops session work-on 42          # Start a session from issue #42
  leaderops session watch abc123        # Poll until the session finishes
  leaderops session message abc123 "Also update the docs"
  leaderops session publish abc123      # Ask the session to open its PR
  leaderops session delete abc123`,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new work session",
	RunE:  runSessionCreate,
}

var sessionWorkOnCmd = &cobra.Command{
	Use:   "work-on <issue-number>",
	Short: "Create a session working on a GitHub issue",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionWorkOn,
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch <session>",
	Short: "Poll a session until it reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionWatch,
}

var sessionMessageCmd = &cobra.Command{
	Use:   "message <session> <text>",
	Short: "Send a follow-up prompt to a running session",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionMessage,
}

var sessionPublishCmd = &cobra.Command{
	Use:   "publish <session>",
	Short: "Ask the session to publish its work as a pull request",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionPublish,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a session and close its workstream",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions",
	RunE:  runSessionLs,
}

var (
	sessionPromptFlag string
	sessionBranchFlag string
	sessionTitleFlag  string
)

func init() {
	SessionCmd.AddCommand(sessionCreateCmd)
	SessionCmd.AddCommand(sessionWorkOnCmd)
	SessionCmd.AddCommand(sessionWatchCmd)
	SessionCmd.AddCommand(sessionMessageCmd)
	SessionCmd.AddCommand(sessionPublishCmd)
	SessionCmd.AddCommand(sessionDeleteCmd)
	SessionCmd.AddCommand(sessionLsCmd)

	sessionCreateCmd.Flags().StringVarP(&sessionPromptFlag, "prompt", "p", "", "Task prompt for the session (required)")
	sessionCreateCmd.Flags().StringVarP(&sessionBranchFlag, "branch", "b", "", "Branch the session starts from")
	sessionCreateCmd.Flags().StringVarP(&sessionTitleFlag, "title", "t", "", "Session title")
	sessionCreateCmd.MarkFlagRequired("prompt")

	sessionWorkOnCmd.Flags().StringVarP(&sessionBranchFlag, "branch", "b", "", "Branch to correlate the session with")
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	client, err := requireSessionClient(cfg)
	if err != nil {
		return err
	}

	sess, err := client.Create(cmd.Context(), session.CreateRequest{
		Prompt: sessionPromptFlag,
		Branch: sessionBranchFlag,
		Title:  sessionTitleFlag,
	})
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Session created: %s", sess.Name)

	if sessionBranchFlag != "" {
		if err := upsertSessionRecord(cmd, cfg, sessionBranchFlag, sess.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

func runSessionWorkOn(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	client, err := requireSessionClient(cfg)
	if err != nil {
		return err
	}

	var issueNumber int
	if _, err := fmt.Sscanf(args[0], "%d", &issueNumber); err != nil {
		return errors.Newf("invalid issue number %q", args[0])
	}

	issue, err := newReviewClient(cfg).GetIssue(cmd.Context(), issueNumber)
	if err != nil {
		return errors.Wrapf(err, "fetch issue #%d", issueNumber)
	}

	prompt := fmt.Sprintf("Task: %s\n\nContext from Issue #%d:\n%s\n\nReference: %s",
		issue.Title, issue.Number, issue.Body, issue.URL)

	sess, err := client.Create(cmd.Context(), session.CreateRequest{
		Prompt: prompt,
		Branch: cfg.Repo.BaseBranch,
		Title:  fmt.Sprintf("Issue #%d: %s", issue.Number, issue.Title),
	})
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Session created for issue #%d: %s", issue.Number, sess.Name)

	if sessionBranchFlag != "" {
		return upsertSessionRecord(cmd, cfg, sessionBranchFlag, sess.Name, &issueNumber)
	}
	return nil
}

func runSessionWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	client, err := requireSessionClient(cfg)
	if err != nil {
		return err
	}

	sess, err := client.Monitor(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	switch sess.State {
	case session.StateSucceeded:
		pterm.Success.Printfln("Session succeeded")
		if url := sess.PullRequestURL(); url != "" {
			pterm.Info.Printfln("Pull request: %s", url)
		}
		return nil
	default:
		if sess.Error != nil {
			return errors.Newf("session ended with state %s: %s", sess.State, sess.Error.Message)
		}
		return errors.Newf("session ended with state %s", sess.State)
	}
}

func runSessionMessage(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	client, err := requireSessionClient(cfg)
	if err != nil {
		return err
	}
	if err := client.SendMessage(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	pterm.Success.Printfln("Message sent to %s", args[0])
	return nil
}

func runSessionPublish(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	client, err := requireSessionClient(cfg)
	if err != nil {
		return err
	}
	if err := client.SendMessage(cmd.Context(), args[0],
		"Please publish your work as a pull request against the integration branch."); err != nil {
		return err
	}
	pterm.Success.Printfln("Publish requested for %s", args[0])
	return nil
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	client, err := requireSessionClient(cfg)
	if err != nil {
		return err
	}

	if err := client.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	pterm.Success.Printfln("Session %s deleted", args[0])

	// Deleting the session retires its workstream.
	store, database, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	rec, err := store.GetBySession(cmd.Context(), "sessions/"+args[0])
	if errors.IsNotFoundError(err) {
		rec, err = store.GetBySession(cmd.Context(), args[0])
	}
	if errors.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := store.MarkClosed(cmd.Context(), rec.Branch); err != nil {
		return err
	}
	pterm.Info.Printfln("Workstream %s closed", rec.Branch)
	return nil
}

func runSessionLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	client, err := requireSessionClient(cfg)
	if err != nil {
		return err
	}

	sessions, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	data := pterm.TableData{{"Session", "State", "Branch", "Title"}}
	for i := range sessions {
		s := &sessions[i]
		data = append(data, []string{s.ID(), s.State, s.StartingBranch(), s.Title})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func upsertSessionRecord(cmd *cobra.Command, cfg *config.Config, branch, sessionName string, issue *int) error {
	store, database, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	return store.Upsert(cmd.Context(), index.Record{
		Branch:      branch,
		IssueNumber: issue,
		SessionID:   &sessionName,
	})
}
