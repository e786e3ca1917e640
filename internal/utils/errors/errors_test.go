package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepErrorReportsWorkflowAndStep(t *testing.T) {
	err := &StepError{
		Workflow: "deploy",
		Step:     "test",
		Index:    2,
		ExitCode: 3,
		Err:      ErrStepExecutionFailed,
	}

	assert.Equal(t, `workflow "deploy" step "test" (#2): step execution failed (exit code 3)`, err.Error())
	assert.True(t, Is(err, ErrStepExecutionFailed))

	wrapped := fmt.Errorf("running: %w", err)
	var stepErr *StepError
	require.True(t, As(wrapped, &stepErr))
	assert.Equal(t, 3, stepErr.ExitCode)
}

func TestValidationErrorFormatting(t *testing.T) {
	single := &ValidationError{Workflow: "ci", Problems: []string{"steps: at least one step is required"}}
	assert.Equal(t, `workflow "ci" is invalid: steps: at least one step is required`, single.Error())
	assert.True(t, Is(single, ErrValidation))

	multi := &ValidationError{Source: "garden.yml", Problems: []string{"a", "b"}}
	assert.Equal(t, "workflow document garden.yml is invalid (2 problems)\n  - a\n  - b", multi.Error())
}

func TestFileErrorUnwraps(t *testing.T) {
	err := &FileError{Workflow: "ci", Path: "/tmp/x", Err: fmt.Errorf("%w: /tmp is a file", ErrPathConflict)}
	assert.True(t, Is(err, ErrPathConflict))
	assert.Contains(t, err.Error(), `workflow "ci" file /tmp/x`)
}
