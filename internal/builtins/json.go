package builtins

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/fsutil"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/jsonutil"
)

func newJSONCommand(inv *Invocation) *cobra.Command {
	var file, key, set string
	var del bool

	cmd := &cobra.Command{
		Use:   "json",
		Short: "Read or edit a value in a JSON file",
		Long: `Read the value at --key from a JSON file, or change it with --set or
--delete. --set values are parsed as JSON when possible, so numbers, booleans
and objects keep their type. With --set a missing file is created. Edits keep
the rest of the file as it was, including key order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setting := cmd.Flags().Changed("set")
			if setting && del {
				return fmt.Errorf("%w: only one of --set and --delete may be given", errors.ErrInvalidArgument)
			}
			path := inv.path(file)

			if setting && !fsutil.FileExists(path) {
				data, err := jsonutil.NewDocument(key, set)
				if err != nil {
					return err
				}
				if err := fsutil.CreateDirIfNotExists(parentDir(path)); err != nil {
					return fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
				}
				if err := jsonutil.WriteJSON(path, data, 0644); err != nil {
					return err
				}
				return report(cmd, inv, data, key, path)
			}

			data, err := jsonutil.ReadJSON(path)
			if err != nil {
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			switch {
			case setting:
				if data, err = jsonutil.SetValue(data, key, set); err != nil {
					return err
				}
				if err := jsonutil.WriteJSON(path, data, info.Mode().Perm()); err != nil {
					return err
				}
			case del:
				var found bool
				if data, found, err = jsonutil.DeleteValue(data, key); err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: key %q not found", errors.ErrInvalidArgument, key)
				}
				if err := jsonutil.WriteJSON(path, data, info.Mode().Perm()); err != nil {
					return err
				}
				inv.setOutput("path", path)
				return nil
			}
			return report(cmd, inv, data, key, path)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file")
	cmd.Flags().StringVar(&key, "key", "", "dotted key path, e.g. app.ports.0")
	cmd.Flags().StringVar(&set, "set", "", "value to store at --key")
	cmd.Flags().BoolVar(&del, "delete", false, "remove --key")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// report prints the value at key and records it as the step output.
func report(cmd *cobra.Command, inv *Invocation, data []byte, key, path string) error {
	value, ok := jsonutil.GetValue(data, key)
	if !ok {
		return fmt.Errorf("%w: key %q not found", errors.ErrInvalidArgument, key)
	}
	text := jsonutil.FormatValue(value)
	inv.setOutput("value", text)
	inv.setOutput("path", path)
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
