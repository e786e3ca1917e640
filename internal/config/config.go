package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/deploymenttheory/go-workflow-runner/internal/utils/fsutil"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/osutil"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name used for config files and directories
	AppName = "workflow-runner"

	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "WORKFLOW_RUNNER"

	// StateDirName is the per-project directory holding locks and run history
	StateDirName = ".workflow-runner"
)

// AppConfig holds the application configuration
type AppConfig struct {
	// Core settings
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Project discovery
	Project struct {
		Root    string   `mapstructure:"root"`
		Include []string `mapstructure:"include"`
		Exclude []string `mapstructure:"exclude"`
	} `mapstructure:"project"`

	// Environment the workflow runs against, exposed to templates
	Environment struct {
		Name      string `mapstructure:"name"`
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"environment"`

	// Step execution settings
	Executor struct {
		Shell      string `mapstructure:"shell"`
		InheritEnv bool   `mapstructure:"inherit_env"`
	} `mapstructure:"executor"`

	// Secret provider settings
	Secrets struct {
		File      string `mapstructure:"file"`
		EnvPrefix string `mapstructure:"env_prefix"`
	} `mapstructure:"secrets"`

	// Run history settings
	History struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"history"`

	// Metrics settings
	Metrics struct {
		Textfile string `mapstructure:"textfile"` // node_exporter textfile collector target
	} `mapstructure:"metrics"`

	// VirusTotal settings for the scan built-in
	VirusTotal struct {
		APIKey string `mapstructure:"api_key"`
		Host   string `mapstructure:"host"`
	} `mapstructure:"virustotal"`
}

// Version is stamped at build time with -ldflags "-X ...config.Version=v1.2.3".
var Version = "dev"

// Global variables
var (
	// Global configuration instance
	Instance AppConfig

	// Status indicators
	ConfigLoaded bool
	ConfigFile   string

	// Viper instance
	v *viper.Viper

	// Ensure thread safety
	initOnce sync.Once
)

// Initialize sets up the configuration system. Flags already bound through
// Viper keep their binding.
func Initialize(cfgFile string) error {
	var err error

	initOnce.Do(func() {
		err = configure(Viper(), cfgFile)

		if unmarshalErr := v.Unmarshal(&Instance); unmarshalErr != nil {
			err = fmt.Errorf("error parsing config: %w", unmarshalErr)
			return
		}

		ConfigFile = v.ConfigFileUsed()
		ConfigLoaded = ConfigFile != "" && err == nil
	})

	return err
}

// Viper returns the viper instance backing Instance so cobra flags can be bound to it.
func Viper() *viper.Viper {
	if v == nil {
		v = viper.New()
		setDefaults(v)
	}
	return v
}

// Refresh re-reads Instance from viper, picking up bound flag values.
func Refresh() error {
	if err := Viper().Unmarshal(&Instance); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	return nil
}

// Load reads configuration without touching the global instance.
func Load(cfgFile string) (*AppConfig, error) {
	lv, err := newViper(cfgFile)
	cfg := &AppConfig{}
	if unmarshalErr := lv.Unmarshal(cfg); unmarshalErr != nil {
		return nil, fmt.Errorf("error parsing config: %w", unmarshalErr)
	}
	return cfg, err
}

// newViper builds a viper instance with defaults, search paths and env binding.
// A malformed config file yields a usable instance plus an error.
func newViper(cfgFile string) (*viper.Viper, error) {
	nv := viper.New()
	setDefaults(nv)
	return nv, configure(nv, cfgFile)
}

// configure points nv at its config file and environment and reads the file.
func configure(nv *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		nv.SetConfigFile(cfgFile)
	} else {
		nv.SetConfigName(AppName)
		nv.SetConfigType("yaml")
		addSearchPaths(nv)
	}

	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	if readErr := nv.ReadInConfig(); readErr != nil {
		if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", readErr)
		}
	}
	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")
	v.SetDefault("log_file", "")

	v.SetDefault("project.root", ".")
	v.SetDefault("project.include", []string{"**/*.yml", "**/*.yaml"})
	v.SetDefault("project.exclude", []string{".git/**", "**/node_modules/**", StateDirName + "/**"})

	v.SetDefault("environment.name", "local")
	v.SetDefault("environment.namespace", "")

	v.SetDefault("executor.shell", "bash")
	v.SetDefault("executor.inherit_env", true)

	v.SetDefault("secrets.file", "")
	v.SetDefault("secrets.env_prefix", "WORKFLOW_SECRET_")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("virustotal.api_key", "")
	v.SetDefault("virustotal.host", "")
}

// addSearchPaths adds config search paths
func addSearchPaths(v *viper.Viper) {
	// Always check current directory first
	v.AddConfigPath(".")

	if osutil.IsDevEnvironment() {
		return
	}

	if osutil.IsRunningInPipeline() {
		v.AddConfigPath("/etc/" + AppName)
		return
	}

	if configDir, err := fsutil.GetConfigDir(AppName); err == nil {
		v.AddConfigPath(configDir)
	}

	if systemConfigDir, err := fsutil.GetSystemConfigDir(AppName); err == nil {
		v.AddConfigPath(systemConfigDir)
	}
}

// StateDir returns the per-project state directory for the given project root
func StateDir(projectRoot string) string {
	return filepath.Join(projectRoot, StateDirName)
}

// HistoryPath returns the configured history database path, defaulting to the
// project state directory.
func (c *AppConfig) HistoryPath(projectRoot string) string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(StateDir(projectRoot), "history.db")
}
