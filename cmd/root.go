package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-workflow-runner/internal/builtins"
	"github.com/deploymenttheory/go-workflow-runner/internal/config"
	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

var cfgFile string

// rootCmd represents the base CLI command
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Run project workflows defined in YAML",
	Long: `workflow-runner discovers kind: Workflow documents in a project, validates
them, writes the files they declare and runs their steps in order.

Steps are either bash scripts or built-in commands. Each step can be skipped,
gated on the outcome of earlier steps with when, or allowed to fail with
continueOnError. Step outputs are available to later steps through ${...}
expressions such as ${steps.build.outputs.version}.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A broken config file is reported but the defaults stay usable.
		configErr := config.Initialize(cfgFile)
		if err := config.Refresh(); err != nil {
			return exitWith(engine.ExitInvalid, err)
		}

		if err := logger.InitLogger(logger.LoggerConfig{
			Debug:     config.Instance.Debug,
			LogFormat: config.Instance.LogFormat,
			LogFile:   config.Instance.LogFile,
		}); err != nil {
			return exitWith(engine.ExitInvalid, err)
		}

		if configErr != nil {
			logger.LogWarn("Configuration file could not be read, using defaults", map[string]interface{}{
				"config_file": cfgFile,
				"error":       configErr.Error(),
			})
		}
		logger.LogDebug("Configuration loaded", map[string]interface{}{
			"config_file": config.ConfigFile,
			"root":        config.Instance.Project.Root,
			"environment": config.Instance.Environment.Name,
		})
		return nil
	},
}

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	defer logger.Sync()
	if err == nil {
		return 0
	}

	code := engine.ExitFailed
	if ee, ok := err.(*exitError); ok {
		code = ee.code
		if ee.err == nil {
			return code
		}
	}
	logger.LogError("Command failed", err, nil)
	fmt.Fprintln(os.Stderr, "Error:", err)
	return code
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is search in standard locations)")
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("log-format", "human", "Log format: json or human")
	flags.String("log-file", "", "Also write logs to this file")
	flags.String("root", ".", "Project root directory")
	flags.String("env", "local", "Environment name exposed to templates as environment.name")
	flags.String("namespace", "", "Namespace exposed to templates as environment.namespace")

	// Bind flags to viper settings
	bindFlags(config.Viper(), flags, map[string]string{
		"debug":                 "debug",
		"log_format":            "log-format",
		"log_file":              "log-file",
		"project.root":          "root",
		"environment.name":      "env",
		"environment.namespace": "namespace",
	})

	rootCmd.AddCommand(runCmd, validateCmd, listCmd, triggersCmd, historyCmd, versionCmd)
}

// bindFlags binds each viper key to the named flag.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag --%s to %s: %v", name, key, err))
		}
	}
}

// projectRoot returns the absolute project root from the configuration.
func projectRoot() (string, error) {
	root, err := filepath.Abs(config.Instance.Project.Root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project root: %w", err)
	}
	return root, nil
}

// loadProject discovers and validates every workflow under the project root.
func loadProject() (*workflow.Project, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	loader := workflow.NewLoader(builtins.Names())
	return loader.LoadProject(root, config.Instance.Project.Include, config.Instance.Project.Exclude)
}
