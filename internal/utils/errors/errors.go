package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// General Errors
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrPathNotAccessible = errors.New("path is not accessible")

	// Workflow definition errors
	ErrValidation        = errors.New("workflow validation failed")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrDuplicateWorkflow = errors.New("duplicate workflow name")
	ErrConfigParseError  = errors.New("error parsing workflow document")

	// File materialization errors
	ErrPathConflict   = errors.New("path conflict")
	ErrSecretNotFound = errors.New("secret not found")
	ErrFileWriteError = errors.New("error writing to file")

	// Step execution errors
	ErrInterpreterNotFound = errors.New("interpreter not found")
	ErrStepExecutionFailed = errors.New("step execution failed")
	ErrTemplateResolution  = errors.New("template resolution failed")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrGlobalFlag          = errors.New("global flags are not allowed in workflow commands")
	ErrCancelled           = errors.New("run cancelled")

	// Run coordination errors
	ErrLocked = errors.New("another workflow run holds the project lock")

	// Run history errors
	ErrRunNotFound = errors.New("run not found")

	// Archive errors used by the compress/extract built-ins
	ErrUnsupportedCompression = errors.New("unsupported compression format")
	ErrInvalidArchive         = errors.New("archive file is corrupted or unsupported")

	// VirusTotal API Errors
	ErrAPIKeyMissing = errors.New("API key is required")
	ErrNetworkError  = errors.New("network error")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }

// StepError attributes a failure to a step of a workflow run.
type StepError struct {
	Workflow string
	Step     string
	Index    int
	ExitCode int
	Err      error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("workflow %q step %q (#%d)", e.Workflow, e.Step, e.Index)
	if errors.Is(e.Err, ErrStepExecutionFailed) {
		return fmt.Sprintf("%s: %v (exit code %d)", msg, e.Err, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ValidationError aggregates every problem found in a workflow definition.
type ValidationError struct {
	Workflow string
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	switch {
	case e.Workflow != "":
		fmt.Fprintf(&b, "workflow %q is invalid", e.Workflow)
	case e.Source != "":
		fmt.Fprintf(&b, "workflow document %s is invalid", e.Source)
	default:
		b.WriteString("workflow is invalid")
	}
	if len(e.Problems) == 1 {
		fmt.Fprintf(&b, ": %s", e.Problems[0])
		return b.String()
	}
	fmt.Fprintf(&b, " (%d problems)", len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// FileError reports a failure to materialize one of a workflow's files.
type FileError struct {
	Workflow string
	Path     string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("workflow %q file %s: %v", e.Workflow, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
