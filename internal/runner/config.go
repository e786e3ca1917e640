package runner

import (
	"github.com/deploymenttheory/go-workflow-runner/internal/config"
	"github.com/deploymenttheory/go-workflow-runner/internal/history"
	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/metrics"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/vtutil"
)

// OptionsFromConfig builds run options for the project at root from the
// application configuration. The returned close function releases the
// history database and must be called once the run is over.
func OptionsFromConfig(cfg *config.AppConfig, root string) (Options, func(), error) {
	opts := Options{
		Root:        root,
		Environment: cfg.Environment.Name,
		Namespace:   cfg.Environment.Namespace,
		Shell:       cfg.Executor.Shell,
		InheritEnv:  cfg.Executor.InheritEnv,
		Secrets:     SecretsFromConfig(cfg, root),
	}
	closeFn := func() {}

	if cfg.VirusTotal.APIKey != "" {
		var vtOpts []func(*vtutil.ClientConfig)
		if cfg.VirusTotal.Host != "" {
			vtOpts = append(vtOpts, vtutil.WithCustomHost(cfg.VirusTotal.Host))
		}
		client, err := vtutil.NewClient(cfg.VirusTotal.APIKey, vtOpts...)
		if err != nil {
			return opts, closeFn, err
		}
		opts.Scanner = client
	}

	if cfg.Metrics.Textfile != "" {
		opts.Metrics = metrics.NewRecorder()
		opts.MetricsTextfile = cfg.Metrics.Textfile
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath(root))
		if err != nil {
			// History is an audit aid; a run goes ahead without it.
			logger.LogWarn("Run history disabled", map[string]interface{}{
				"path":  cfg.HistoryPath(root),
				"error": err.Error(),
			})
			return opts, closeFn, nil
		}
		opts.History = store
		closeFn = func() {
			if err := store.Close(); err != nil {
				logger.LogDebug("Failed to close history database", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	return opts, closeFn, nil
}
