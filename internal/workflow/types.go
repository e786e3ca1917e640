package workflow

import (
	"fmt"
	"strings"
)

// Kind is the document kind that marks a YAML document as a workflow.
const Kind = "Workflow"

// DefaultKeepAliveHours is how long the execution sandbox may outlive a run.
const DefaultKeepAliveHours = 48

// When controls whether a step runs given the outcome of the steps before it.
type When string

const (
	WhenOnSuccess When = "onSuccess"
	WhenOnError   When = "onError"
	WhenAlways    When = "always"
	WhenNever     When = "never"
)

// ParseWhen converts a resolved string into a When value.
func ParseWhen(s string) (When, error) {
	switch w := When(strings.TrimSpace(s)); w {
	case WhenOnSuccess, WhenOnError, WhenAlways, WhenNever:
		return w, nil
	case "":
		return WhenOnSuccess, nil
	default:
		return "", fmt.Errorf("invalid when value %q: expected one of onSuccess, onError, always, never", s)
	}
}

// Event is a source-control event a trigger reacts to.
type Event string

const (
	EventPullRequest         Event = "pull-request"
	EventPullRequestClosed   Event = "pull-request-closed"
	EventPullRequestMerged   Event = "pull-request-merged"
	EventPullRequestOpened   Event = "pull-request-opened"
	EventPullRequestReopened Event = "pull-request-reopened"
	EventPullRequestUpdated  Event = "pull-request-updated"
	EventPush                Event = "push"
)

// Workflow is a validated, normalized workflow definition.
type Workflow struct {
	Name           string
	Description    string
	EnvVars        map[string]Template
	Files          []FileSpec
	Resources      ResourceSpec
	KeepAliveHours float64
	Steps          []StepSpec
	Triggers       []TriggerSpec

	// Path is the file the workflow was loaded from, if any.
	Path string
}

// FileSpec is a file written to disk before the first step runs.
type FileSpec struct {
	Path    string
	Content FileContent
}

// FileContent is either InlineContent or SecretContent.
type FileContent interface {
	isFileContent()
}

// InlineContent is file content given directly in the workflow.
type InlineContent struct {
	Data Template
}

// SecretContent is file content read from the secret provider.
type SecretContent struct {
	Name string
}

func (InlineContent) isFileContent() {}
func (SecretContent) isFileContent() {}

// ResourceValues are CPU in millicpu and memory in megabytes.
type ResourceValues struct {
	CPU    int `yaml:"cpu" validate:"gte=0"`
	Memory int `yaml:"memory" validate:"gte=0"`
}

// ResourceSpec holds the sandbox requests and limits.
type ResourceSpec struct {
	Requests ResourceValues
	Limits   ResourceValues
}

// DefaultResources returns the resource defaults applied to every workflow.
func DefaultResources() ResourceSpec {
	return ResourceSpec{
		Requests: ResourceValues{CPU: 50, Memory: 64},
		Limits:   ResourceValues{CPU: 1000, Memory: 1024},
	}
}

// StepSpec is one step of a workflow.
type StepSpec struct {
	// Index is the 1-based position of the step in the workflow.
	Index           int
	Name            string
	Description     string
	Body            StepBody
	EnvVars         map[string]Template
	Skip            Template
	When            Template
	ContinueOnError bool
}

// StepBody is either CommandBody or ScriptBody.
type StepBody interface {
	isStepBody()
}

// CommandBody runs a built-in command with its arguments.
type CommandBody struct {
	Args []Template
}

// ScriptBody runs a bash script.
type ScriptBody struct {
	Text Template
}

func (CommandBody) isStepBody() {}
func (ScriptBody) isStepBody()  {}

// TriggerSpec is routing data for the upstream trigger matcher. The engine
// never reads it.
type TriggerSpec struct {
	Environment        string   `yaml:"environment" validate:"required"`
	Namespace          string   `yaml:"namespace,omitempty"`
	Events             []Event  `yaml:"events,omitempty" validate:"dive,oneof=pull-request pull-request-closed pull-request-merged pull-request-opened pull-request-reopened pull-request-updated push"`
	Branches           []string `yaml:"branches,omitempty"`
	BaseBranches       []string `yaml:"baseBranches,omitempty"`
	IgnoreBranches     []string `yaml:"ignoreBranches,omitempty"`
	IgnoreBaseBranches []string `yaml:"ignoreBaseBranches,omitempty"`
}

// StepNames returns the names of the workflow's steps in order.
func (w *Workflow) StepNames() []string {
	names := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		names[i] = s.Name
	}
	return names
}

// DefaultStepName is the name given to a step declared without one.
func DefaultStepName(index int) string {
	return fmt.Sprintf("step-%d", index)
}
