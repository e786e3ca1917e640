package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
)

func TestObserveAndWriteTextfile(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewRecorder()
	r.Observe(&engine.RunResult{
		Workflow: "ci",
		State:    engine.WorkflowSucceeded,
		Steps: []*engine.StepRecord{
			{Name: "build", State: engine.StepSucceeded, StartedAt: start, FinishedAt: start.Add(2 * time.Second)},
			{Name: "deploy", State: engine.StepSkipped},
		},
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
	})
	r.Observe(nil)
	r.ObserveFailure("ci", "MaterializationFailed")

	path := filepath.Join(t.TempDir(), "textfile", "workflow.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `workflow_runs_total{state="Succeeded",workflow="ci"} 1`)
	assert.Contains(t, text, `workflow_runs_total{state="MaterializationFailed",workflow="ci"} 1`)
	assert.Contains(t, text, `workflow_steps_total{state="Skipped",workflow="ci"} 1`)
	assert.Contains(t, text, `workflow_step_duration_seconds_sum{step="build",workflow="ci"} 2`)
	assert.NotContains(t, text, `step="deploy"`)
	assert.Contains(t, text, "workflow_last_run_timestamp_seconds")
}

func TestRegistryGathers(t *testing.T) {
	r := NewRecorder()
	r.Observe(&engine.RunResult{Workflow: "ci", State: engine.WorkflowFailed})

	families, err := r.Registry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "workflow_runs_total")
}
