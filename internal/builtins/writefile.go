package builtins

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/fsutil"
)

func newWriteFileCommand(inv *Invocation) *cobra.Command {
	var path, content, mode string
	var appendMode bool

	cmd := &cobra.Command{
		Use:   "write-file",
		Short: "Write text to a file, creating parent directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := strconv.ParseUint(mode, 8, 32)
			if err != nil {
				return fmt.Errorf("%w: invalid mode %q", errors.ErrInvalidArgument, mode)
			}
			target := inv.path(path)
			if fsutil.DirExists(target) {
				return fmt.Errorf("%w: %s is a directory", errors.ErrPathConflict, target)
			}
			if err := fsutil.CreateDirIfNotExists(filepath.Dir(target)); err != nil {
				return fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
			}

			if appendMode {
				f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, os.FileMode(perm))
				if err != nil {
					return fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
				}
				if _, err := f.WriteString(content); err != nil {
					f.Close()
					return fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
				}
			} else {
				if _, _, err := fsutil.WriteFileIfChanged(target, []byte(content), os.FileMode(perm)); err != nil {
					return fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
				}
				if err := fsutil.SetPermissions(target, os.FileMode(perm)); err != nil {
					return err
				}
			}

			inv.setOutput("path", target)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(content), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "file to write")
	cmd.Flags().StringVar(&content, "content", "", "text to write")
	cmd.Flags().StringVar(&mode, "mode", "0644", "octal file mode")
	cmd.Flags().BoolVar(&appendMode, "append", false, "append instead of replacing the file")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}
