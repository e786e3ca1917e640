package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-workflow-runner/internal/builtins"
	"github.com/deploymenttheory/go-workflow-runner/internal/config"
)

// versionCmd shows the application version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s %s/%s)\n", config.AppName, config.Version,
			runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(cmd.OutOrStdout(), "built-in commands: %v\n", builtins.Names())
	},
}
