package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WORKFLOW_RUNNER_DEV", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "human", cfg.LogFormat)
	assert.Equal(t, "local", cfg.Environment.Name)
	assert.Equal(t, "bash", cfg.Executor.Shell)
	assert.True(t, cfg.Executor.InheritEnv)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, []string{"**/*.yml", "**/*.yaml"}, cfg.Project.Include)
	assert.Equal(t, "WORKFLOW_SECRET_", cfg.Secrets.EnvPrefix)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "runner.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
log_format: json
environment:
  name: staging
  namespace: team-a
history:
  path: /var/lib/runs.db
`), 0644))
	t.Setenv("WORKFLOW_RUNNER_EXECUTOR_SHELL", "/usr/local/bin/bash")

	cfg, err := Load(cfgFile)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "staging", cfg.Environment.Name)
	assert.Equal(t, "team-a", cfg.Environment.Namespace)
	assert.Equal(t, "/usr/local/bin/bash", cfg.Executor.Shell)
	assert.Equal(t, "/var/lib/runs.db", cfg.HistoryPath("/project"))
}

func TestHistoryPathDefaultsToStateDir(t *testing.T) {
	cfg := &AppConfig{}
	assert.Equal(t, filepath.Join("/project", StateDirName, "history.db"), cfg.HistoryPath("/project"))
}

func TestLoadMalformedFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("log_format: [unterminated"), 0644))

	_, err := Load(cfgFile)
	assert.Error(t, err)
}
