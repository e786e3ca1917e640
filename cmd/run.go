package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-workflow-runner/internal/builtins"
	"github.com/deploymenttheory/go-workflow-runner/internal/config"
	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/runner"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

var workflowFile string

// runCmd runs one workflow of the project
var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Run a workflow",
	Long: `Run a workflow by name from the project, or from a single file with -w.

The exit status is 0 when the workflow succeeds, 1 when it fails, 2 when it is
interrupted, 3 when the definition is invalid, 4 when its files cannot be
written and 5 when another run holds the project lock.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		wf, err := selectWorkflow(workflowFile, name)
		if err != nil {
			return exitWith(engine.ExitInvalid, err)
		}

		root, err := projectRoot()
		if err != nil {
			return exitWith(engine.ExitInvalid, err)
		}

		opts, closeFn, err := runner.OptionsFromConfig(&config.Instance, root)
		defer closeFn()
		if err != nil {
			return exitWith(engine.ExitInvalid, err)
		}

		result, err := runner.Run(cmd.Context(), wf, opts)
		if err != nil {
			return exitWith(runner.ExitCode(nil, err), err)
		}

		printSummary(cmd, result)
		if code := result.ExitCode(); code != engine.ExitSucceeded {
			return exitWith(code, result.Err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&workflowFile, "workflow", "w", "", "run a workflow from this file instead of the project")
}

// selectWorkflow picks the workflow to run from a single file or the project.
func selectWorkflow(file, name string) (*workflow.Workflow, error) {
	if file != "" {
		workflows, err := workflow.NewLoader(builtins.Names()).LoadFile(file)
		if err != nil {
			return nil, err
		}
		if name == "" {
			if len(workflows) != 1 {
				return nil, fmt.Errorf("%s declares %d workflows, name one to run", file, len(workflows))
			}
			return workflows[0], nil
		}
		project, err := workflow.NewProject(file, workflows)
		if err != nil {
			return nil, err
		}
		return project.Get(name)
	}

	if name == "" {
		return nil, fmt.Errorf("a workflow name is required; use the list command to see available workflows")
	}
	project, err := loadProject()
	if err != nil {
		return nil, err
	}
	return project.Get(name)
}

func printSummary(cmd *cobra.Command, result *engine.RunResult) {
	out := cmd.OutOrStdout()
	for _, s := range result.Steps {
		line := fmt.Sprintf("  %-10s %s", s.State, s.Name)
		switch {
		case s.State == engine.StepSkipped && s.SkipReason != "":
			line += fmt.Sprintf(" (%s)", s.SkipReason)
		case s.State == engine.StepFailed && s.ContinueOnError:
			line += fmt.Sprintf(" (exit %d, continued)", s.ExitCode)
		case s.State == engine.StepFailed:
			line += fmt.Sprintf(" (exit %d)", s.ExitCode)
		}
		fmt.Fprintln(out, line)
		if s.State == engine.StepFailed && s.Stderr != "" {
			fmt.Fprint(os.Stderr, s.Stderr)
		}
	}
	fmt.Fprintf(out, "workflow %s %s in %s (run %s)\n", result.Workflow, result.State,
		result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond), result.RunID)

	logger.LogDebug("Run summary", map[string]interface{}{
		"run_id": result.RunID,
		"counts": result.Counts(),
	})
}
