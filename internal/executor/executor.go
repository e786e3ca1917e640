// Package executor runs a single resolved workflow step, either as a bash
// script or as a built-in command.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/deploymenttheory/go-workflow-runner/internal/builtins"
	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/secrets"
	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

// OutputsFileEnv names the variable holding the path scripts write outputs to.
const OutputsFileEnv = "STEP_OUTPUTS_FILE"

// DefaultShell is the interpreter for script steps.
const DefaultShell = "bash"

// Standard outputs every executed step exposes.
const (
	OutputStdout   = "stdout"
	OutputStderr   = "stderr"
	OutputLog      = "log"
	OutputExitCode = "exitCode"
)

// waitDelay bounds how long Wait blocks on pipes after the shell exits or is killed.
const waitDelay = 5 * time.Second

// Mode selects how a step body is executed.
type Mode int

const (
	ModeCommand Mode = iota
	ModeScript
)

func (m Mode) String() string {
	if m == ModeScript {
		return "script"
	}
	return "command"
}

// ResolvedStep is a step whose templates have all been rendered.
type ResolvedStep struct {
	Name    string
	Index   int
	Mode    Mode
	Args    []string
	Script  string
	EnvVars map[string]string
}

// StepResult is what an executed step produced.
type StepResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Outputs  map[string]string
	Duration time.Duration
}

// Options configures an Executor.
type Options struct {
	// Dir is the working directory of scripts and the base of relative
	// paths given to built-ins.
	Dir string
	// Shell is the script interpreter, looked up on PATH. Defaults to bash.
	Shell string
	// InheritEnv passes the runner's own environment to scripts.
	InheritEnv bool
	// Scanner backs the scan built-in.
	Scanner builtins.FileScanner
	// Masker hides secret values in logged output.
	Masker *secrets.Masker
}

// Executor runs steps. It is safe for sequential reuse across steps.
type Executor struct {
	opts      Options
	lookPath  func(string) (string, error)
	waitDelay time.Duration
}

// New returns an Executor with the given options.
func New(opts Options) *Executor {
	if opts.Shell == "" {
		opts.Shell = DefaultShell
	}
	return &Executor{opts: opts, lookPath: exec.LookPath, waitDelay: waitDelay}
}

// Run executes step. A non-zero exit code is reported through the result,
// not as an error. Errors mean the step could not be run at all.
func (e *Executor) Run(ctx context.Context, step ResolvedStep, workflowEnv map[string]string) (*StepResult, error) {
	start := time.Now()

	var res *StepResult
	var err error
	switch step.Mode {
	case ModeScript:
		res, err = e.runScript(ctx, step, workflowEnv)
	case ModeCommand:
		res, err = e.runCommand(ctx, step)
	default:
		return nil, fmt.Errorf("%w: unknown step mode %d", errors.ErrInvalidArgument, step.Mode)
	}
	if err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	if res.Outputs == nil {
		res.Outputs = make(map[string]string)
	}
	res.Outputs[OutputStdout] = res.Stdout
	res.Outputs[OutputStderr] = res.Stderr
	res.Outputs[OutputLog] = strings.TrimSpace(res.Stdout)
	res.Outputs[OutputExitCode] = strconv.Itoa(res.ExitCode)

	logger.LogDebug("Step finished", map[string]interface{}{
		"step":      step.Name,
		"mode":      step.Mode.String(),
		"exit_code": res.ExitCode,
		"duration":  res.Duration.String(),
		"stdout":    e.opts.Masker.Mask(truncate(res.Stdout, 2048)),
		"stderr":    e.opts.Masker.Mask(truncate(res.Stderr, 2048)),
	})
	return res, nil
}

func (e *Executor) runScript(ctx context.Context, step ResolvedStep, workflowEnv map[string]string) (*StepResult, error) {
	shell, err := e.lookPath(e.opts.Shell)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is required to run script steps: %v", errors.ErrInterpreterNotFound, e.opts.Shell, err)
	}

	outputsFile, err := os.CreateTemp("", "step-outputs-*")
	if err != nil {
		return nil, fmt.Errorf("creating outputs file: %w", err)
	}
	outputsPath := outputsFile.Name()
	outputsFile.Close()
	defer os.Remove(outputsPath)

	env := mergeEnv(workflowEnv, step.EnvVars)
	env[OutputsFileEnv] = outputsPath

	cmd := exec.CommandContext(ctx, shell, "-c", step.Script)
	cmd.Dir = e.opts.Dir
	cmd.Env = buildEnv(e.opts.InheritEnv, env)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = e.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCancelled, ctxErr)
	}

	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		exitCode = exitErr.ExitCode()
	case errors.Is(runErr, exec.ErrWaitDelay):
		// The shell exited but a background child still holds its output open.
		exitCode = cmd.ProcessState.ExitCode()
		logger.LogWarn("Step left background processes holding its output", map[string]interface{}{
			"step":      step.Name,
			"exit_code": exitCode,
		})
	default:
		return nil, fmt.Errorf("failed to execute %s: %w", e.opts.Shell, runErr)
	}

	res := &StepResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}
	outputs, err := readOutputsFile(outputsPath)
	if err != nil {
		// A malformed outputs file fails an otherwise successful step.
		res.Stderr += fmt.Sprintf("\ninvalid %s: %v\n", OutputsFileEnv, err)
		if res.ExitCode == 0 {
			res.ExitCode = 1
		}
		return res, nil
	}
	res.Outputs = outputs
	return res, nil
}

func readOutputsFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseOutputs(f)
}

func (e *Executor) runCommand(ctx context.Context, step ResolvedStep) (*StepResult, error) {
	if len(step.Args) == 0 {
		return nil, fmt.Errorf("%w: empty command", errors.ErrUnknownCommand)
	}
	for _, arg := range step.Args[1:] {
		if workflow.IsGlobalFlag(arg) {
			return nil, fmt.Errorf("%w: %q", errors.ErrGlobalFlag, arg)
		}
	}
	if !builtins.IsBuiltin(step.Args[0]) {
		return nil, fmt.Errorf("%w: %q (available: %s)", errors.ErrUnknownCommand, step.Args[0], strings.Join(builtins.Names(), ", "))
	}

	var stdout, stderr bytes.Buffer
	inv := &builtins.Invocation{
		Dir:     e.opts.Dir,
		Stdout:  &stdout,
		Stderr:  &stderr,
		Outputs: make(map[string]string),
		Scanner: e.opts.Scanner,
	}

	exitCode := 0
	if err := builtins.Run(ctx, inv, step.Args); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrCancelled, ctxErr)
		}
		exitCode = 1
		fmt.Fprintf(&stderr, "%s: %v\n", step.Args[0], err)
	}

	return &StepResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Outputs:  inv.Outputs,
	}, nil
}

// mergeEnv layers step variables over workflow variables.
func mergeEnv(workflowEnv, stepEnv map[string]string) map[string]string {
	env := make(map[string]string, len(workflowEnv)+len(stepEnv)+1)
	for k, v := range workflowEnv {
		env[k] = v
	}
	for k, v := range stepEnv {
		env[k] = v
	}
	return env
}

func buildEnv(inherit bool, env map[string]string) []string {
	var out []string
	if inherit {
		for _, kv := range os.Environ() {
			key, _, _ := strings.Cut(kv, "=")
			if _, overridden := env[key]; !overridden {
				out = append(out, kv)
			}
		}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
