// Package tooling is the public Go API for running workflows from other
// programs without going through the CLI.
package tooling

import (
	"context"
	"fmt"

	"github.com/deploymenttheory/go-workflow-runner/internal/builtins"
	"github.com/deploymenttheory/go-workflow-runner/internal/config"
	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/runner"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

// InitOptions contains options for initializing the tooling API
type InitOptions struct {
	ConfigFile  string // Path to configuration file
	Debug       bool   // Enable debug logging
	LogFormat   string // Log format: "human" or "json"
	LogFile     string // Path to log file
	SuppressLog bool   // Suppress all logging
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	State    string
	ExitCode int
	Outputs  map[string]string
}

// WorkflowResult contains the results of a workflow execution
type WorkflowResult struct {
	RunID        string       // Identifier of the run
	State        string       // Succeeded, Failed or Aborted
	ExitCode     int          // Process exit code the CLI would use
	Success      bool         // Whether the workflow completed successfully
	ErrorMessage string       // Error message if any
	Steps        []StepResult // Per-step outcomes in execution order
}

var initialized bool

// Initialize initializes the tooling API with the given options
func Initialize(options InitOptions) error {
	if initialized {
		return nil // Already initialized
	}

	configErr := config.Initialize(options.ConfigFile)

	// Update config with provided options
	if options.Debug {
		config.Instance.Debug = true
	}
	if options.LogFormat != "" {
		config.Instance.LogFormat = options.LogFormat
	}
	if options.LogFile != "" {
		config.Instance.LogFile = options.LogFile
	}

	if !options.SuppressLog {
		if err := logger.InitLogger(logger.LoggerConfig{
			Debug:     config.Instance.Debug,
			LogFormat: config.Instance.LogFormat,
			LogFile:   config.Instance.LogFile,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		logger.LogInfo("Tooling API initialized", map[string]interface{}{
			"config_file": options.ConfigFile,
			"debug":       options.Debug,
			"log_format":  options.LogFormat,
		})
		if configErr != nil {
			logger.LogWarn("Configuration initialization warning", map[string]interface{}{
				"error": configErr.Error(),
			})
		}
	}

	initialized = true
	return nil
}

// DefaultOptions returns the default initialization options
func DefaultOptions() InitOptions {
	return InitOptions{
		LogFormat:   "human",
		SuppressLog: true,
	}
}

func ensureInitialized() error {
	if initialized {
		return nil
	}
	if err := Initialize(DefaultOptions()); err != nil {
		return fmt.Errorf("failed to initialize tooling API: %w", err)
	}
	return nil
}

// SetEnvironment sets the environment name and namespace exposed to templates.
func SetEnvironment(name, namespace string) {
	_ = ensureInitialized()
	config.Instance.Environment.Name = name
	config.Instance.Environment.Namespace = namespace
}

// ListWorkflows returns the names of the workflows under projectRoot.
func ListWorkflows(projectRoot string) ([]string, error) {
	if err := ensureInitialized(); err != nil {
		return nil, err
	}
	project, err := loadProject(projectRoot)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, wf := range project.Workflows() {
		names = append(names, wf.Name)
	}
	return names, nil
}

// ExecuteWorkflow runs the named workflow of the project at projectRoot.
func ExecuteWorkflow(ctx context.Context, projectRoot, name string) (*WorkflowResult, error) {
	if err := ensureInitialized(); err != nil {
		return nil, err
	}

	project, err := loadProject(projectRoot)
	if err != nil {
		return failed(engine.ExitInvalid, err), err
	}
	wf, err := project.Get(name)
	if err != nil {
		return failed(engine.ExitInvalid, err), err
	}
	return execute(ctx, projectRoot, wf)
}

// ExecuteWorkflowFromYAML runs a workflow given as YAML. The document must
// declare exactly one workflow; projectRoot is where files are written and
// scripts run.
func ExecuteWorkflowFromYAML(ctx context.Context, projectRoot, workflowYAML string) (*WorkflowResult, error) {
	if err := ensureInitialized(); err != nil {
		return nil, err
	}

	workflows, err := workflow.NewLoader(builtins.Names()).Parse([]byte(workflowYAML), "<inline>")
	if err != nil {
		return failed(engine.ExitInvalid, err), err
	}
	if len(workflows) != 1 {
		err := fmt.Errorf("expected exactly one workflow document, found %d", len(workflows))
		return failed(engine.ExitInvalid, err), err
	}
	return execute(ctx, projectRoot, workflows[0])
}

// GetVersion returns the current version of the tooling API
func GetVersion() string {
	return config.Version
}

// Shutdown performs any necessary cleanup before the application exits
func Shutdown() error {
	if initialized {
		logger.LogInfo("Tooling API shutting down", nil)
		_ = logger.Sync()
	}
	return nil
}

func loadProject(root string) (*workflow.Project, error) {
	loader := workflow.NewLoader(builtins.Names())
	return loader.LoadProject(root, config.Instance.Project.Include, config.Instance.Project.Exclude)
}

func execute(ctx context.Context, projectRoot string, wf *workflow.Workflow) (*WorkflowResult, error) {
	opts, closeFn, err := runner.OptionsFromConfig(&config.Instance, projectRoot)
	defer closeFn()
	if err != nil {
		return failed(engine.ExitInvalid, err), err
	}

	result, err := runner.Run(ctx, wf, opts)
	if err != nil {
		return failed(runner.ExitCode(nil, err), err), err
	}

	out := &WorkflowResult{
		RunID:    result.RunID,
		State:    string(result.State),
		ExitCode: result.ExitCode(),
		Success:  result.State == engine.WorkflowSucceeded,
		Steps:    make([]StepResult, 0, len(result.Steps)),
	}
	if result.Err != nil {
		out.ErrorMessage = result.Err.Error()
	}
	for _, s := range result.Steps {
		out.Steps = append(out.Steps, StepResult{Name: s.Name, State: string(s.State), ExitCode: s.ExitCode, Outputs: s.Outputs})
	}
	return out, nil
}

func failed(code int, err error) *WorkflowResult {
	return &WorkflowResult{ExitCode: code, ErrorMessage: err.Error()}
}
