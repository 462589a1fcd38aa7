package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	settingsPath string
	verbose      bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "twinforge",
		Short: "TwinForge - Multi-Cloud Digital Twin Pipeline Provisioner",
		Long: `TwinForge provisions layered IoT digital-twin pipelines across AWS,
Azure, and Google Cloud from a declarative project directory.

Features:
  - Per-layer provider assignment with automatic cross-cloud glue
  - Project compilation to a provisioning-tool variable file
  - Per-provider function bundling with source transforms
  - Pre-flight existence gates before every layer deployment
  - OPA policy checks before anything touches a cloud
  - Guaranteed cleanup on destroy, down to a naming-prefix sweep`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "c", "", "CLI settings file (default: twinforge.yaml next to the project)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newBundleCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
