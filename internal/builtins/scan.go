package builtins

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/vtutil"
)

// FileScanner looks up the reputation of a file by its SHA-256 digest.
type FileScanner interface {
	LookupFile(ctx context.Context, sha256 string) (*vtutil.FileReport, error)
}

func newScanCommand(inv *Invocation) *cobra.Command {
	var file string
	var maxMalicious int

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Check a file against VirusTotal by its SHA-256 digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inv.Scanner == nil {
				return fmt.Errorf("%w: set virustotal.api_key to use scan", errors.ErrAPIKeyMissing)
			}

			digest, err := HashFile(SHA256, inv.path(file))
			if err != nil {
				return err
			}
			report, err := inv.Scanner.LookupFile(cmd.Context(), digest)
			if err != nil {
				return err
			}

			inv.setOutput("sha256", digest)
			inv.setOutput("found", strconv.FormatBool(report.Found))
			inv.setOutput("malicious", strconv.Itoa(report.Malicious))
			inv.setOutput("suspicious", strconv.Itoa(report.Suspicious))
			inv.setOutput("permalink", report.Permalink())

			out := cmd.OutOrStdout()
			if !report.Found {
				fmt.Fprintf(out, "%s: not known to VirusTotal\n", digest)
				return nil
			}
			fmt.Fprintf(out, "%s: %d/%d engines flag the file as malicious, %d as suspicious\n",
				digest, report.Malicious, report.Total(), report.Suspicious)

			if maxMalicious >= 0 && report.Malicious > maxMalicious {
				return fmt.Errorf("%s is flagged as malicious by %d engines", file, report.Malicious)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file to check")
	cmd.Flags().IntVar(&maxMalicious, "max-malicious", 0, "fail when more engines than this flag the file; -1 never fails")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
