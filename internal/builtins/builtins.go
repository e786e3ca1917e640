// Package builtins holds the commands that `command:` steps can run. Each one
// is a cobra command; the first argument of a step names the command and the
// rest are parsed as its flags and positional arguments.
package builtins

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// Invocation carries the environment of a single built-in command run.
type Invocation struct {
	// Dir is the directory relative paths are resolved against.
	Dir    string
	Stdout io.Writer
	Stderr io.Writer

	// Outputs receives the key/value pairs the command surfaces to later steps.
	Outputs map[string]string

	// Scanner backs the scan command. Nil disables it.
	Scanner FileScanner
}

func (inv *Invocation) setOutput(key, value string) {
	if inv.Outputs == nil {
		inv.Outputs = make(map[string]string)
	}
	inv.Outputs[key] = value
}

func (inv *Invocation) path(p string) string {
	if p == "" || filepath.IsAbs(p) || inv.Dir == "" {
		return p
	}
	return filepath.Join(inv.Dir, p)
}

func parentDir(p string) string {
	return filepath.Dir(filepath.Clean(p))
}

func newRootCommand(inv *Invocation) *cobra.Command {
	root := &cobra.Command{
		Use:           "builtin",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetHelpCommand(&cobra.Command{Hidden: true, Use: "no-help"})

	root.AddCommand(
		newEchoCommand(inv),
		newCompressCommand(inv),
		newExtractCommand(inv),
		newHashCommand(inv),
		newJSONCommand(inv),
		newPlistCommand(inv),
		newScanCommand(inv),
		newWriteFileCommand(inv),
	)
	return root
}

// Names lists the available built-in commands in lexical order.
func Names() []string {
	var names []string
	for _, c := range newRootCommand(&Invocation{}).Commands() {
		if c.Hidden {
			continue
		}
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

// IsBuiltin reports whether name is a built-in command.
func IsBuiltin(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Run executes args[0] with the remaining arguments.
func Run(ctx context.Context, inv *Invocation, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command given", errors.ErrUnknownCommand)
	}
	if !IsBuiltin(args[0]) {
		return fmt.Errorf("%w: %q", errors.ErrUnknownCommand, args[0])
	}
	if inv.Stdout == nil {
		inv.Stdout = io.Discard
	}
	if inv.Stderr == nil {
		inv.Stderr = io.Discard
	}

	root := newRootCommand(inv)
	root.SetArgs(args)
	root.SetOut(inv.Stdout)
	root.SetErr(inv.Stderr)
	return root.ExecuteContext(ctx)
}
