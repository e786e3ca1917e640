// Package engine drives a workflow's steps through their state machine.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deploymenttheory/go-workflow-runner/internal/executor"
	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/template"
	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

// StepRunner executes a resolved step.
type StepRunner interface {
	Run(ctx context.Context, step executor.ResolvedStep, workflowEnv map[string]string) (*executor.StepResult, error)
}

// Controller runs the steps of a workflow strictly in order.
//
// Once a step fails without continueOnError, the run stays failed: onSuccess
// steps are skipped and onError steps run for the rest of the run, even after
// an onError step succeeds. Conditions that cannot be resolved skip the step.
type Controller struct {
	Runner   StepRunner
	Resolver template.Resolver

	// now is replaced in tests.
	now func() time.Time
}

// NewController returns a controller using runner and resolver.
func NewController(runner StepRunner, resolver template.Resolver) *Controller {
	return &Controller{Runner: runner, Resolver: resolver, now: time.Now}
}

type runState struct {
	wf          *workflow.Workflow
	tctx        *template.Context
	result      *RunResult
	priorFailed bool
	aborted     bool
}

// Run executes wf. Step outputs are recorded in tctx as each step finishes.
// The returned result is never nil.
func (c *Controller) Run(ctx context.Context, wf *workflow.Workflow, tctx *template.Context) *RunResult {
	if c.now == nil {
		c.now = time.Now
	}
	if tctx == nil {
		tctx = template.NewContext(template.EnvironmentContext{}, template.WorkflowContext{Name: wf.Name}, template.ProjectContext{})
	}

	st := &runState{
		wf:   wf,
		tctx: tctx,
		result: &RunResult{
			RunID:     tctx.Workflow.RunID,
			Workflow:  wf.Name,
			State:     WorkflowRunning,
			Steps:     make([]*StepRecord, 0, len(wf.Steps)),
			StartedAt: c.now(),
		},
	}

	logger.LogInfo("Workflow started", map[string]interface{}{
		"workflow": wf.Name,
		"run_id":   st.result.RunID,
		"steps":    len(wf.Steps),
	})

	for _, spec := range wf.Steps {
		rec := &StepRecord{
			Name:            spec.Name,
			Index:           spec.Index,
			State:           StepPending,
			ContinueOnError: spec.ContinueOnError,
			ExitCode:        -1,
		}
		st.result.Steps = append(st.result.Steps, rec)

		if !st.aborted && ctx.Err() != nil {
			st.aborted = true
			st.fail(&errors.StepError{Workflow: wf.Name, Step: spec.Name, Index: spec.Index,
				ExitCode: -1, Err: fmt.Errorf("%w: %v", errors.ErrCancelled, ctx.Err())})
		}
		if st.aborted {
			c.skip(st, rec, "run aborted")
			continue
		}

		c.runStep(ctx, st, spec, rec)
	}

	st.result.FinishedAt = c.now()
	st.result.State = st.finalState()

	fields := map[string]interface{}{
		"workflow": wf.Name,
		"run_id":   st.result.RunID,
		"state":    string(st.result.State),
		"duration": st.result.FinishedAt.Sub(st.result.StartedAt).String(),
	}
	if st.result.State == WorkflowSucceeded {
		logger.LogInfo("Workflow finished", fields)
	} else {
		logger.LogError("Workflow finished", st.result.Err, fields)
	}
	return st.result
}

func (c *Controller) runStep(ctx context.Context, st *runState, spec workflow.StepSpec, rec *StepRecord) {
	skip, err := c.resolveSkip(spec, st.tctx)
	if err != nil {
		c.skipOnConditionError(st, rec, "skip", err)
		return
	}
	if skip {
		c.skip(st, rec, "skip is true")
		return
	}

	when, err := c.resolveWhen(spec, st.tctx)
	if err != nil {
		c.skipOnConditionError(st, rec, "when", err)
		return
	}
	rec.When = when

	switch {
	case when == workflow.WhenNever:
		c.skip(st, rec, "when is never")
		return
	case when == workflow.WhenOnSuccess && st.priorFailed:
		c.skip(st, rec, "a previous step failed")
		return
	case when == workflow.WhenOnError && !st.priorFailed:
		c.skip(st, rec, "no previous step failed")
		return
	}

	resolved, env, err := c.resolveStep(st.wf, spec, st.tctx)
	if err != nil {
		rec.StartedAt, rec.FinishedAt = c.now(), c.now()
		c.finishFailed(st, rec, err)
		return
	}

	rec.State = StepRunning
	rec.StartedAt = c.now()
	logger.LogInfo("Step started", map[string]interface{}{
		"workflow": st.wf.Name,
		"step":     spec.Name,
		"index":    spec.Index,
		"when":     string(when),
		"mode":     resolved.Mode.String(),
	})

	res, err := c.Runner.Run(ctx, resolved, env)
	rec.FinishedAt = c.now()

	if err != nil {
		if errors.Is(err, errors.ErrCancelled) || ctx.Err() != nil {
			rec.State = StepCancelled
			rec.Err = st.stepError(spec, -1, err)
			st.aborted = true
			st.fail(rec.Err)
			logger.LogWarn("Step cancelled", map[string]interface{}{
				"workflow": st.wf.Name,
				"step":     spec.Name,
			})
			return
		}
		c.finishFailed(st, rec, err)
		return
	}

	rec.ExitCode = res.ExitCode
	rec.Stdout = res.Stdout
	rec.Stderr = res.Stderr
	rec.Outputs = res.Outputs
	st.tctx.SetStep(spec.Name, template.StepContext{
		Outputs: res.Outputs,
		Log:     res.Outputs[executor.OutputLog],
	})

	if res.ExitCode == 0 {
		rec.State = StepSucceeded
		logger.LogInfo("Step succeeded", map[string]interface{}{
			"workflow": st.wf.Name,
			"step":     spec.Name,
			"duration": rec.Duration().String(),
		})
		return
	}

	c.finishFailed(st, rec, errors.ErrStepExecutionFailed)
}

// finishFailed marks rec Failed with cause and updates the failure flag.
func (c *Controller) finishFailed(st *runState, rec *StepRecord, cause error) {
	rec.State = StepFailed
	rec.Err = &errors.StepError{
		Workflow: st.wf.Name,
		Step:     rec.Name,
		Index:    rec.Index,
		ExitCode: rec.ExitCode,
		Err:      cause,
	}

	fields := map[string]interface{}{
		"workflow":          st.wf.Name,
		"step":              rec.Name,
		"exit_code":         rec.ExitCode,
		"continue_on_error": rec.ContinueOnError,
	}
	if rec.ContinueOnError {
		logger.LogWarn("Step failed, continuing", fields)
		return
	}
	logger.LogError("Step failed", rec.Err, fields)
	st.priorFailed = true
	st.fail(rec.Err)
}

func (c *Controller) skip(st *runState, rec *StepRecord, reason string) {
	rec.State = StepSkipped
	rec.SkipReason = reason
	logger.LogInfo("Step skipped", map[string]interface{}{
		"workflow": st.wf.Name,
		"step":     rec.Name,
		"reason":   reason,
	})
}

// skipOnConditionError skips a step whose skip or when could not be
// resolved. The error is recorded but does not change the failure flag.
func (c *Controller) skipOnConditionError(st *runState, rec *StepRecord, field string, err error) {
	rec.State = StepSkipped
	rec.SkipReason = field + " could not be resolved"
	rec.Err = &errors.StepError{Workflow: st.wf.Name, Step: rec.Name, Index: rec.Index, ExitCode: -1,
		Err: fmt.Errorf("resolving %s: %w", field, err)}
	logger.LogError("Step skipped: condition could not be resolved", rec.Err, map[string]interface{}{
		"workflow": st.wf.Name,
		"step":     rec.Name,
		"field":    field,
	})
}

func (c *Controller) resolve(raw workflow.Template, tctx *template.Context) (string, error) {
	if c.Resolver == nil {
		return raw.String(), nil
	}
	return c.Resolver.Resolve(raw.String(), tctx)
}

func (c *Controller) resolveSkip(spec workflow.StepSpec, tctx *template.Context) (bool, error) {
	value, err := c.resolve(spec.Skip, tctx)
	if err != nil {
		return false, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}
	skip, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: skip resolved to %q, not a boolean", errors.ErrTemplateResolution, value)
	}
	return skip, nil
}

func (c *Controller) resolveWhen(spec workflow.StepSpec, tctx *template.Context) (workflow.When, error) {
	value, err := c.resolve(spec.When, tctx)
	if err != nil {
		return "", err
	}
	when, err := workflow.ParseWhen(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrTemplateResolution, err)
	}
	return when, nil
}

// resolveStep renders the step body and both layers of environment variables.
func (c *Controller) resolveStep(wf *workflow.Workflow, spec workflow.StepSpec, tctx *template.Context) (executor.ResolvedStep, map[string]string, error) {
	resolved := executor.ResolvedStep{Name: spec.Name, Index: spec.Index}

	env, err := c.resolveMap(wf.EnvVars, tctx, "envVars")
	if err != nil {
		return resolved, nil, err
	}

	switch body := spec.Body.(type) {
	case workflow.ScriptBody:
		text, err := c.resolve(body.Text, tctx)
		if err != nil {
			return resolved, nil, fmt.Errorf("resolving script: %w", err)
		}
		resolved.Mode = executor.ModeScript
		resolved.Script = text
		resolved.EnvVars, err = c.resolveMap(spec.EnvVars, tctx, "step envVars")
		if err != nil {
			return resolved, nil, err
		}
	case workflow.CommandBody:
		resolved.Mode = executor.ModeCommand
		resolved.Args = make([]string, len(body.Args))
		for i, arg := range body.Args {
			v, err := c.resolve(arg, tctx)
			if err != nil {
				return resolved, nil, fmt.Errorf("resolving command argument %d: %w", i, err)
			}
			resolved.Args[i] = v
		}
	default:
		return resolved, nil, fmt.Errorf("%w: step has no command or script", errors.ErrInvalidArgument)
	}
	return resolved, env, nil
}

func (c *Controller) resolveMap(vars map[string]workflow.Template, tctx *template.Context, what string) (map[string]string, error) {
	out := make(map[string]string, len(vars))
	for k, raw := range vars {
		v, err := c.resolve(raw, tctx)
		if err != nil {
			return nil, fmt.Errorf("resolving %s.%s: %w", what, k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (st *runState) stepError(spec workflow.StepSpec, exitCode int, err error) *errors.StepError {
	return &errors.StepError{Workflow: st.wf.Name, Step: spec.Name, Index: spec.Index, ExitCode: exitCode, Err: err}
}

// fail records the first error that decides the run's outcome.
func (st *runState) fail(err error) {
	if st.result.Err == nil {
		st.result.Err = err
	}
}

func (st *runState) finalState() WorkflowState {
	if st.aborted {
		return WorkflowAborted
	}
	for _, s := range st.result.Steps {
		if !s.Absorbed() {
			return WorkflowFailed
		}
	}
	return WorkflowSucceeded
}
