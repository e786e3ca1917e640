// Package metrics exposes workflow run counters in the Prometheus format.
package metrics

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/fsutil"
)

const namespace = "workflow"

// Recorder holds the run metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	runDuration  *prometheus.HistogramVec
	lastRun      *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs by final state.",
		}, []string{"workflow", "state"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Workflow steps by final state.",
		}, []string{"workflow", "state"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of executed steps.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"workflow", "step"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of whole workflow runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"workflow"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the workflow last finished.",
		}, []string{"workflow"}),
	}
	r.registry.MustRegister(r.runs, r.steps, r.stepDuration, r.runDuration, r.lastRun)
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe counts a finished run and its steps.
func (r *Recorder) Observe(result *engine.RunResult) {
	if result == nil {
		return
	}
	r.runs.WithLabelValues(result.Workflow, string(result.State)).Inc()
	if !result.FinishedAt.IsZero() {
		r.runDuration.WithLabelValues(result.Workflow).Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
		r.lastRun.WithLabelValues(result.Workflow).Set(float64(result.FinishedAt.Unix()))
	}

	for _, step := range result.Steps {
		r.steps.WithLabelValues(result.Workflow, string(step.State)).Inc()
		if d := step.Duration(); d > 0 {
			r.stepDuration.WithLabelValues(result.Workflow, step.Name).Observe(d.Seconds())
		}
	}
}

// ObserveFailure counts a run that ended before its steps were reached,
// under the given state label.
func (r *Recorder) ObserveFailure(workflow, state string) {
	r.runs.WithLabelValues(workflow, state).Inc()
}

// WriteTextfile writes every metric to path for the node_exporter textfile
// collector. The write is atomic.
func (r *Recorder) WriteTextfile(path string) error {
	if err := fsutil.CreateDirIfNotExists(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
