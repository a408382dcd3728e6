package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/arii/leaderops/config"
	"github.com/arii/leaderops/errors"
	"github.com/arii/leaderops/index"
)

// IndexCmd represents the index command
var IndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Query and maintain the correlation index",
	Long: `Query and maintain the branch/PR/issue/session correlation index.

Examples:
  leaderops index lookup feature/login   # By branch
  leaderops index lookup 160             # By PR or issue number
  leaderops index ls --active            # Active correlations only
  leaderops index close feature/login    # Mark a workstream closed
  leaderops index rm feature/login       # Delete a correlation
  leaderops index export > workstreams.csv`,
}

var indexLookupCmd = &cobra.Command{
	Use:   "lookup <branch|#pr|#issue>",
	Short: "Resolve an identifier to its correlation record",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexLookup,
}

var indexLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List correlation records",
	RunE:  runIndexLs,
}

var indexCloseCmd = &cobra.Command{
	Use:   "close <branch>",
	Short: "Mark a workstream closed, keeping its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexClose,
}

var indexRmCmd = &cobra.Command{
	Use:   "rm <branch>",
	Short: "Delete a correlation record",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexRm,
}

var indexExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the index as CSV",
	RunE:  runIndexExport,
}

var (
	indexActiveFlag bool
	indexOutFlag    string
)

func init() {
	IndexCmd.AddCommand(indexLookupCmd)
	IndexCmd.AddCommand(indexLsCmd)
	IndexCmd.AddCommand(indexCloseCmd)
	IndexCmd.AddCommand(indexRmCmd)
	IndexCmd.AddCommand(indexExportCmd)

	indexLsCmd.Flags().BoolVar(&indexActiveFlag, "active", false, "Only active records")
	indexExportCmd.Flags().StringVarP(&indexOutFlag, "out", "o", "", "Write CSV to a file instead of stdout")
}

func withStore(fn func(*index.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	store, database, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(store)
}

func runIndexLookup(cmd *cobra.Command, args []string) error {
	return withStore(func(store *index.Store) error {
		rec, err := store.Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil
	})
}

func runIndexLs(cmd *cobra.Command, args []string) error {
	return withStore(func(store *index.Store) error {
		records, err := store.List(cmd.Context(), indexActiveFlag)
		if err != nil {
			return err
		}

		data := pterm.TableData{{"Branch", "PR", "Issue", "Session", "Active", "Updated"}}
		for _, rec := range records {
			data = append(data, []string{
				rec.Branch,
				formatRef(rec.PRNumber),
				formatRef(rec.IssueNumber),
				formatOpt(rec.SessionID),
				fmt.Sprintf("%t", rec.Active),
				rec.UpdatedAt.Local().Format(time.DateTime),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	})
}

func runIndexClose(cmd *cobra.Command, args []string) error {
	return withStore(func(store *index.Store) error {
		if err := store.MarkClosed(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Closed workstream %s", args[0])
		return nil
	})
}

func runIndexRm(cmd *cobra.Command, args []string) error {
	return withStore(func(store *index.Store) error {
		if err := store.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Removed correlation %s", args[0])
		return nil
	})
}

func runIndexExport(cmd *cobra.Command, args []string) error {
	return withStore(func(store *index.Store) error {
		out := os.Stdout
		if indexOutFlag != "" {
			f, err := os.Create(indexOutFlag)
			if err != nil {
				return errors.Wrapf(err, "create %s", indexOutFlag)
			}
			defer f.Close()
			out = f
		}
		return store.ExportCSV(cmd.Context(), out)
	})
}

func printRecord(rec *index.Record) {
	fmt.Printf("Branch:  %s\n", rec.Branch)
	fmt.Printf("PR:      %s\n", formatRef(rec.PRNumber))
	fmt.Printf("Issue:   %s\n", formatRef(rec.IssueNumber))
	fmt.Printf("Session: %s\n", formatOpt(rec.SessionID))
	fmt.Printf("Active:  %t\n", rec.Active)
	fmt.Printf("Updated: %s\n", rec.UpdatedAt.Local().Format(time.DateTime))
	if rec.Stale(time.Now()) {
		pterm.Warning.Println("Session has been idle for more than 24h")
	}
}

func formatRef(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("#%d", *n)
}

func formatOpt(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
