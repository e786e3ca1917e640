package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-workflow-runner/internal/config"
	"github.com/deploymenttheory/go-workflow-runner/internal/history"
)

var (
	historyLimit int
	historyRunID string
)

// historyCmd prints recorded runs
var historyCmd = &cobra.Command{
	Use:   "history [workflow]",
	Short: "Show recorded workflow runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		store, err := history.Open(config.Instance.HistoryPath(root))
		if err != nil {
			return err
		}
		defer store.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

		if historyRunID != "" {
			run, err := store.Get(cmd.Context(), historyRunID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "run %s of %s: %s (exit %d)\n", run.RunID, run.Workflow, run.State, run.ExitCode)
			if run.Error != "" {
				fmt.Fprintf(w, "error: %s\n", run.Error)
			}
			fmt.Fprintln(w, "#\tSTEP\tSTATE\tEXIT\tDURATION\tNOTE")
			for _, s := range run.Steps {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%dms\t%s\n", s.Position, s.Name, s.State, s.ExitCode, s.DurationMs, s.SkipReason)
			}
			return w.Flush()
		}

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		runs, err := store.List(cmd.Context(), name, historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN\tWORKFLOW\tSTATE\tSTARTED\tDURATION")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Workflow, r.State,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Duration().Round(time.Millisecond))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", history.DefaultListLimit, "number of runs to show")
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "show the steps of one run")
}
