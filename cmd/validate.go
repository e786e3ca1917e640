package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-workflow-runner/internal/builtins"
	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

// validateCmd checks workflow definitions without running anything
var validateCmd = &cobra.Command{
	Use:   "validate [name | file...]",
	Short: "Validate workflow definitions",
	Long: `Validate every workflow in the project, one workflow by name, or the
workflow documents in the given files. Exits with status 3 on any problem.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if len(args) > 0 && isFile(args[0]) {
			loader := workflow.NewLoader(builtins.Names())
			for _, file := range args {
				workflows, err := loader.LoadFile(file)
				if err != nil {
					return exitWith(engine.ExitInvalid, err)
				}
				for _, wf := range workflows {
					fmt.Fprintf(out, "ok  %s (%s)\n", wf.Name, file)
				}
			}
			return nil
		}

		project, err := loadProject()
		if err != nil {
			return exitWith(engine.ExitInvalid, err)
		}
		if len(args) == 1 {
			wf, err := project.Get(args[0])
			if err != nil {
				return exitWith(engine.ExitInvalid, err)
			}
			fmt.Fprintf(out, "ok  %s (%s)\n", wf.Name, wf.Path)
			return nil
		}
		for _, wf := range project.Workflows() {
			fmt.Fprintf(out, "ok  %s (%s)\n", wf.Name, wf.Path)
		}
		return nil
	},
}
