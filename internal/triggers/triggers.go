// Package triggers decides which of a workflow's triggers fire for a
// source-control event.
package triggers

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

// Event describes what happened in source control.
type Event struct {
	Type workflow.Event
	// Branch is the pushed branch or the pull request's head branch.
	Branch string
	// BaseBranch is the pull request's target branch. Empty for pushes.
	BaseBranch string
}

// Validate checks that the event type is known and branch patterns can be matched against.
func (e Event) Validate() error {
	switch e.Type {
	case workflow.EventPullRequest, workflow.EventPullRequestClosed, workflow.EventPullRequestMerged,
		workflow.EventPullRequestOpened, workflow.EventPullRequestReopened, workflow.EventPullRequestUpdated,
		workflow.EventPush:
	default:
		return fmt.Errorf("%w: unknown event %q", errors.ErrInvalidArgument, e.Type)
	}
	if e.Branch == "" {
		return fmt.Errorf("%w: event branch is required", errors.ErrInvalidArgument)
	}
	return nil
}

// Match returns the triggers that fire for ev, in declaration order.
//
// A trigger fires when its events include ev.Type (or list none), the branch
// matches one of its branches (or none are listed) and no ignoreBranches, and
// the same holds for the base branch when the event has one. Patterns use
// doublestar globs, so "release/**" matches nested release branches.
func Match(triggers []workflow.TriggerSpec, ev Event) []workflow.TriggerSpec {
	var matched []workflow.TriggerSpec
	for _, t := range triggers {
		if Fires(t, ev) {
			matched = append(matched, t)
		}
	}
	return matched
}

// Fires reports whether a single trigger matches ev.
func Fires(t workflow.TriggerSpec, ev Event) bool {
	if len(t.Events) > 0 && !containsEvent(t.Events, ev.Type) {
		return false
	}
	if !branchAllowed(ev.Branch, t.Branches, t.IgnoreBranches) {
		return false
	}
	if ev.BaseBranch != "" && !branchAllowed(ev.BaseBranch, t.BaseBranches, t.IgnoreBaseBranches) {
		return false
	}
	return true
}

func branchAllowed(branch string, include, ignore []string) bool {
	if len(include) > 0 && !matchAny(include, branch) {
		return false
	}
	return !matchAny(ignore, branch)
}

func matchAny(patterns []string, branch string) bool {
	for _, p := range patterns {
		// Invalid patterns never match.
		if ok, err := doublestar.Match(p, branch); err == nil && ok {
			return true
		}
	}
	return false
}

func containsEvent(events []workflow.Event, e workflow.Event) bool {
	for _, candidate := range events {
		if candidate == e {
			return true
		}
	}
	return false
}
