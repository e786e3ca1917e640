package builtins

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newEchoCommand(inv *Invocation) *cobra.Command {
	var noNewline bool

	cmd := &cobra.Command{
		Use:   "echo [text...]",
		Short: "Print the arguments and expose them as the message output",
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			inv.setOutput("message", message)
			if noNewline {
				_, err := fmt.Fprint(cmd.OutOrStdout(), message)
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), message)
			return err
		},
	}
	cmd.Flags().BoolVarP(&noNewline, "no-newline", "n", false, "do not print the trailing newline")
	return cmd
}
