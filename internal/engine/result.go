package engine

import (
	"time"

	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

// StepState is the lifecycle state of one step.
type StepState string

const (
	StepPending   StepState = "Pending"
	StepSkipped   StepState = "Skipped"
	StepRunning   StepState = "Running"
	StepSucceeded StepState = "Succeeded"
	StepFailed    StepState = "Failed"
	StepCancelled StepState = "Cancelled"
)

// Terminal reports whether no further transition can happen.
func (s StepState) Terminal() bool {
	switch s {
	case StepSkipped, StepSucceeded, StepFailed, StepCancelled:
		return true
	}
	return false
}

// WorkflowState is the aggregate state of a run.
type WorkflowState string

const (
	WorkflowRunning   WorkflowState = "Running"
	WorkflowSucceeded WorkflowState = "Succeeded"
	WorkflowFailed    WorkflowState = "Failed"
	WorkflowAborted   WorkflowState = "Aborted"
)

// Process exit codes of a workflow run.
const (
	ExitSucceeded       = 0
	ExitFailed          = 1
	ExitAborted         = 2
	ExitInvalid         = 3
	ExitMaterialization = 4
	ExitLocked          = 5
)

// StepRecord is the outcome of one step.
type StepRecord struct {
	Name            string
	Index           int
	State           StepState
	When            workflow.When
	ContinueOnError bool

	// SkipReason says why a Skipped step did not run.
	SkipReason string

	// ExitCode is -1 when the step never produced one.
	ExitCode int
	Stdout   string
	Stderr   string
	Outputs  map[string]string

	// Err is a *errors.StepError for Failed and Cancelled steps and for
	// steps skipped because a condition could not be resolved.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the step ran; zero for steps that never started.
func (s *StepRecord) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Absorbed reports whether the step's outcome does not fail the workflow.
func (s *StepRecord) Absorbed() bool {
	switch s.State {
	case StepSkipped, StepSucceeded:
		return true
	case StepFailed:
		return s.ContinueOnError
	}
	return false
}

// RunResult is the outcome of a workflow run.
type RunResult struct {
	RunID    string
	Workflow string
	State    WorkflowState
	Steps    []*StepRecord

	// Err is the first error that failed or aborted the run.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Step returns the record for the named step, or nil.
func (r *RunResult) Step(name string) *StepRecord {
	for _, s := range r.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// ExitCode maps the workflow state to a process exit code.
func (r *RunResult) ExitCode() int {
	switch r.State {
	case WorkflowSucceeded:
		return ExitSucceeded
	case WorkflowAborted:
		return ExitAborted
	default:
		return ExitFailed
	}
}

// Counts returns how many steps ended in each state.
func (r *RunResult) Counts() map[StepState]int {
	counts := make(map[StepState]int)
	for _, s := range r.Steps {
		counts[s.State]++
	}
	return counts
}
