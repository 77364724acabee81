package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath  string
	WatchConfig bool
}

// MonitorFlags holds monitor overrides; unset flags fall back to config.
type MonitorFlags struct {
	Name      string
	Interval  time.Duration
	AutoMerge bool
	Preview   bool
}

// MergeFlags holds merge flags.
type MergeFlags struct {
	IncludeMerged bool
}

// DeleteFlags holds delete-segments flags.
type DeleteFlags struct {
	Yes bool
}

// buildRoot creates the command tree.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createMonitorCommand(globalFlags, &MonitorFlags{}),
		createMergeCommand(globalFlags, &MergeFlags{}),
		createDeleteSegmentsCommand(globalFlags, &DeleteFlags{}),
		createOrganizeCommand(globalFlags),
		createRoomsCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "roomrec",
		Short: "Live room recorder",
		Long: `roomrec watches live rooms, records each broadcast into segment files,
merges segments into archives and keeps the archive tree organised.

Settings come from a TOML file (--config), ROOMREC_* environment variables
and command flags, in increasing order of precedence.

Examples:
  roomrec monitor 123456 --config=roomrec.toml
  roomrec monitor https://live.douyin.com/123456 --auto-merge
  roomrec merge 123456 --include-merged
  roomrec delete-segments 123456
  roomrec organize
  roomrec rooms`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().BoolVar(&flags.WatchConfig, "watch-config", false, "apply monitor.interval and monitor.auto_merge changes from the config file while running")
	return root
}
