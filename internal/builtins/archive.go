package builtins

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/fsutil"
)

func newCompressCommand(inv *Invocation) *cobra.Command {
	var format, source, destination string

	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Compress a file or directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := inv.path(source), inv.path(destination)
			if err := fsutil.CreateDirIfNotExists(parentDir(dst)); err != nil {
				return fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
			}
			if err := Compress(format, src, dst); err != nil {
				logger.LogError("Compression failed", err, map[string]interface{}{
					"format": format,
					"source": src,
				})
				return err
			}

			size, _ := fsutil.FileSize(dst)
			inv.setOutput("path", dst)
			inv.setOutput("format", format)
			fmt.Fprintf(cmd.OutOrStdout(), "compressed %s to %s (%s, %d bytes)\n", src, dst, format, size)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", FormatZip, "archive format: zip, tar, tar.gz, tar.bz2, tar.xz, gzip, bzip2 or xz")
	cmd.Flags().StringVar(&source, "source", "", "file or directory to compress")
	cmd.Flags().StringVar(&destination, "destination", "", "archive to create")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newExtractCommand(inv *Invocation) *cobra.Command {
	var format, source, destination string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract an archive",
		Long: `Extract an archive. With --format auto the format is detected from the
file content, falling back to the extension. Compressed tarballs (.tar.gz,
.tgz, .tar.bz2, .tar.xz) are unpacked into the destination directory; a plain
gzip, bzip2 or xz file is decompressed to a single file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := inv.path(source), inv.path(destination)

			if format == FormatAuto {
				detected, err := DetectArchiveFormat(src)
				if err != nil {
					return fmt.Errorf("%w: %v", errors.ErrInvalidArchive, err)
				}
				format = detected
			}

			dir := dst
			if !extractsToDir(format) {
				dir = parentDir(dst)
			}
			if err := fsutil.CreateDirIfNotExists(dir); err != nil {
				return fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
			}
			if !fsutil.IsWritable(dir) {
				return fmt.Errorf("%w: %s is not writable", errors.ErrPermissionDenied, dir)
			}

			out, err := Extract(format, src, dst)
			if err != nil {
				logger.LogError("Extraction failed", err, map[string]interface{}{
					"format": format,
					"source": src,
				})
				return err
			}

			inv.setOutput("path", out)
			inv.setOutput("format", format)
			fmt.Fprintf(cmd.OutOrStdout(), "extracted %s to %s (%s)\n", src, out, format)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", FormatAuto, "archive format: auto, zip, tar, tar.gz, tar.bz2, tar.xz, gzip, bzip2 or xz")
	cmd.Flags().StringVar(&source, "source", "", "archive to extract")
	cmd.Flags().StringVar(&destination, "destination", "", "directory (or file, for single-file formats) to extract into")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}
