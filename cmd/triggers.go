package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
	"github.com/deploymenttheory/go-workflow-runner/internal/triggers"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

var (
	triggerEvent      string
	triggerBranch     string
	triggerBaseBranch string
)

// triggersCmd shows which workflows an event would start
var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Show which workflows a source-control event triggers",
	Long: `Match a push or pull request event against the triggers of every workflow
in the project and print the workflows and environments that would run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev := triggers.Event{
			Type:       workflow.Event(triggerEvent),
			Branch:     triggerBranch,
			BaseBranch: triggerBaseBranch,
		}
		if err := ev.Validate(); err != nil {
			return exitWith(engine.ExitInvalid, err)
		}

		project, err := loadProject()
		if err != nil {
			return exitWith(engine.ExitInvalid, err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WORKFLOW\tENVIRONMENT\tNAMESPACE")
		for _, wf := range project.Workflows() {
			for _, t := range triggers.Match(wf.Triggers, ev) {
				fmt.Fprintf(w, "%s\t%s\t%s\n", wf.Name, t.Environment, t.Namespace)
			}
		}
		return w.Flush()
	},
}

func init() {
	triggersCmd.Flags().StringVar(&triggerEvent, "event", string(workflow.EventPush), "event type, e.g. push or pull-request-opened")
	triggersCmd.Flags().StringVar(&triggerBranch, "branch", "", "pushed or head branch")
	triggersCmd.Flags().StringVar(&triggerBaseBranch, "base-branch", "", "pull request target branch")
	_ = triggersCmd.MarkFlagRequired("branch")
}
