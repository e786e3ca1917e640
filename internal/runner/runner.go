// Package runner performs one complete workflow run: it takes the project
// lock, writes the workflow's files, runs its steps and records the outcome.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/nightlyone/lockfile"

	"github.com/deploymenttheory/go-workflow-runner/internal/builtins"
	"github.com/deploymenttheory/go-workflow-runner/internal/config"
	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
	"github.com/deploymenttheory/go-workflow-runner/internal/executor"
	"github.com/deploymenttheory/go-workflow-runner/internal/history"
	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/materialize"
	"github.com/deploymenttheory/go-workflow-runner/internal/metrics"
	"github.com/deploymenttheory/go-workflow-runner/internal/secrets"
	"github.com/deploymenttheory/go-workflow-runner/internal/template"
	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/fsutil"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

// LockFileName is the lock file inside the project state directory.
const LockFileName = "run.lock"

// Options configures a run.
type Options struct {
	// Root is the project root. Files and scripts are relative to it.
	Root string
	// Project names the project in templates. Defaults to the base name of Root.
	Project string

	Environment string
	Namespace   string

	Shell      string
	InheritEnv bool

	// Secrets backs files[].secretName. Nil means no secrets are available.
	Secrets secrets.Provider
	// Scanner backs the scan built-in.
	Scanner builtins.FileScanner

	// Runner replaces the step executor, mainly for tests.
	Runner engine.StepRunner

	// History and Metrics are optional.
	History         *history.Store
	Metrics         *metrics.Recorder
	MetricsTextfile string

	// NewRunID is replaced in tests.
	NewRunID func() string
}

// Run executes wf. The returned error is non-nil only when the run could not
// start or its files could not be materialized; a workflow whose steps fail
// returns a result in the Failed state and a nil error.
func Run(ctx context.Context, wf *workflow.Workflow, opts Options) (*engine.RunResult, error) {
	if wf == nil {
		return nil, fmt.Errorf("%w: no workflow given", errors.ErrInvalidArgument)
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root %q: %w", opts.Root, err)
	}

	unlock, err := acquireLock(root)
	if err != nil {
		return nil, err
	}
	defer unlock()

	runID := newRunID(opts)
	masker := &secrets.Masker{}
	var provider secrets.Provider
	if opts.Secrets != nil {
		provider = secrets.MaskingProvider{Provider: opts.Secrets, Masker: masker}
	}

	resolver, err := template.NewCELResolver()
	if err != nil {
		return nil, err
	}

	project := opts.Project
	if project == "" {
		project = filepath.Base(root)
	}
	tctx := template.NewContext(
		template.EnvironmentContext{Name: opts.Environment, Namespace: opts.Namespace},
		template.WorkflowContext{Name: wf.Name, RunID: runID},
		template.ProjectContext{Name: project, Root: root},
	)

	logger.LogInfo("Preparing workflow run", map[string]interface{}{
		"workflow":    wf.Name,
		"run_id":      runID,
		"root":        root,
		"environment": opts.Environment,
		"files":       len(wf.Files),
	})

	m := &materialize.Materializer{Secrets: provider, Resolver: resolver}
	if _, err := m.Materialize(ctx, wf.Name, wf.Files, root, tctx); err != nil {
		if opts.Metrics != nil {
			opts.Metrics.ObserveFailure(wf.Name, "MaterializationFailed")
			writeMetrics(opts)
		}
		return nil, err
	}

	stepRunner := opts.Runner
	if stepRunner == nil {
		stepRunner = executor.New(executor.Options{
			Dir:        root,
			Shell:      opts.Shell,
			InheritEnv: opts.InheritEnv,
			Scanner:    opts.Scanner,
			Masker:     masker,
		})
	}

	result := engine.NewController(stepRunner, resolver).Run(ctx, wf, tctx)
	maskResult(result, masker)

	if opts.History != nil {
		opts.History.Masker = masker
		// The run is already over; a history failure must not change its outcome.
		if err := opts.History.Record(context.WithoutCancel(ctx), result); err != nil {
			logger.LogWarn("Failed to record run history", map[string]interface{}{
				"run_id": runID,
				"error":  err.Error(),
			})
		}
	}
	if opts.Metrics != nil {
		opts.Metrics.Observe(result)
		writeMetrics(opts)
	}

	return result, nil
}

// maskResult hides secret values in everything a caller may print. Later
// steps have already seen the real outputs.
func maskResult(result *engine.RunResult, masker *secrets.Masker) {
	result.Err = maskError(result.Err, masker)
	for _, s := range result.Steps {
		s.Stdout = masker.Mask(s.Stdout)
		s.Stderr = masker.Mask(s.Stderr)
		for k, v := range s.Outputs {
			s.Outputs[k] = masker.Mask(v)
		}
		s.Err = maskError(s.Err, masker)
	}
}

// maskedError keeps the wrapped chain for errors.Is and errors.As.
type maskedError struct {
	msg string
	err error
}

func (e *maskedError) Error() string { return e.msg }
func (e *maskedError) Unwrap() error { return e.err }

func maskError(err error, masker *secrets.Masker) error {
	if err == nil {
		return nil
	}
	if msg := masker.Mask(err.Error()); msg != err.Error() {
		return &maskedError{msg: msg, err: err}
	}
	return err
}

// ExitCode maps the outcome of Run to a process exit code.
func ExitCode(result *engine.RunResult, err error) int {
	var fileErr *errors.FileError
	switch {
	case err == nil && result != nil:
		return result.ExitCode()
	case errors.Is(err, errors.ErrLocked):
		return engine.ExitLocked
	case errors.Is(err, errors.ErrValidation), errors.Is(err, errors.ErrWorkflowNotFound),
		errors.Is(err, errors.ErrDuplicateWorkflow):
		return engine.ExitInvalid
	case errors.As(err, &fileErr):
		return engine.ExitMaterialization
	case errors.Is(err, errors.ErrCancelled):
		return engine.ExitAborted
	default:
		return engine.ExitFailed
	}
}

// SecretsFromConfig builds the secret lookup chain: the dotenv file first,
// then environment variables.
func SecretsFromConfig(cfg *config.AppConfig, root string) secrets.Provider {
	var chain secrets.ChainProvider
	if cfg.Secrets.File != "" {
		path := cfg.Secrets.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		chain = append(chain, secrets.NewFileProvider(path))
	}
	return append(chain, secrets.EnvProvider{Prefix: cfg.Secrets.EnvPrefix})
}

func acquireLock(root string) (func(), error) {
	stateDir := config.StateDir(root)
	if err := fsutil.CreateDirIfNotExists(stateDir); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	lock, err := lockfile.New(filepath.Join(stateDir, LockFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to create project lock: %w", err)
	}

	if err := lock.TryLock(); err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			owner := "unknown"
			if p, ownerErr := lock.GetOwner(); ownerErr == nil {
				owner = fmt.Sprintf("pid %d", p.Pid)
			}
			return nil, fmt.Errorf("%w: %s (held by %s)", errors.ErrLocked, stateDir, owner)
		}
		return nil, fmt.Errorf("failed to acquire project lock: %w", err)
	}

	return func() {
		if err := lock.Unlock(); err != nil && !os.IsNotExist(err) {
			logger.LogWarn("Failed to release project lock", map[string]interface{}{
				"lock":  string(lock),
				"error": err.Error(),
			})
		}
	}, nil
}

func newRunID(opts Options) string {
	if opts.NewRunID != nil {
		return opts.NewRunID()
	}
	return uuid.NewString()
}

func writeMetrics(opts Options) {
	if opts.MetricsTextfile == "" {
		return
	}
	if err := opts.Metrics.WriteTextfile(opts.MetricsTextfile); err != nil {
		logger.LogWarn("Failed to write metrics textfile", map[string]interface{}{
			"path":  opts.MetricsTextfile,
			"error": err.Error(),
		})
	}
}
