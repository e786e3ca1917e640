package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
)

// listCmd prints the workflows of the project
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the workflows in the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := loadProject()
		if err != nil {
			return exitWith(engine.ExitInvalid, err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTEPS\tFILES\tTRIGGERS\tDESCRIPTION")
		for _, wf := range project.Workflows() {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", wf.Name, len(wf.Steps), len(wf.Files), len(wf.Triggers), wf.Description)
		}
		return w.Flush()
	},
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
