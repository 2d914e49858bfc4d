package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "snapvault",
		Short: "SnapVault - screenshot capture pipeline",
		Long: `SnapVault watches a capture inbox, classifies each screenshot with an
external model, routes the extracted fragments into a markdown vault and a
task list, and archives the capture with an analysis sidecar.

Every destination write is idempotent and journalled, so overlapping or
crashed invocations converge instead of duplicating content.`,
		Version: version + " (commit: " + commit + ", built: " + buildDate + ")",
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newDigestCommand(version))
	rootCmd.AddCommand(newServeCommand(version))

	return rootCmd
}
