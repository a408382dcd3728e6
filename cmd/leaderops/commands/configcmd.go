package commands

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/arii/leaderops/config"
	"github.com/arii/leaderops/errors"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage leaderops configuration",
	Long: `Manage leaderops configuration.

Configuration is merged from ~/.leaderops/config.toml, the nearest
leaderops.toml up the directory tree, and LEADEROPS_* environment variables.

Examples:
  leaderops config init   # Write a starter leaderops.toml
  leaderops config show   # Show the effective merged configuration`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter leaderops.toml in the current directory",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective merged configuration",
	RunE:  runConfigShow,
}

func init() {
	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.WriteDefaultConfig("leaderops.toml"); err != nil {
		return err
	}
	fmt.Println("Wrote leaderops.toml")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return errors.Wrap(err, "load configuration")
	}

	settings := config.GetViper().AllSettings()
	out, err := toml.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "render configuration")
	}
	fmt.Print(string(out))
	return nil
}
