// Package template resolves ${...} expressions in workflow fields against the
// state of a running workflow.
package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// Resolver turns a raw field value into its final string.
type Resolver interface {
	Resolve(raw string, ctx *Context) (string, error)
}

// StepContext is what later steps can see of a finished step.
type StepContext struct {
	Outputs map[string]string
	Log     string
}

// Context is the data available to expressions.
type Context struct {
	Steps       map[string]StepContext
	Environment EnvironmentContext
	Workflow    WorkflowContext
	Project     ProjectContext
}

// EnvironmentContext names the environment the run targets.
type EnvironmentContext struct {
	Name      string
	Namespace string
}

// WorkflowContext describes the running workflow.
type WorkflowContext struct {
	Name  string
	RunID string
}

// ProjectContext describes the project the workflow belongs to.
type ProjectContext struct {
	Name string
	Root string
}

// NewContext returns an empty context for the given environment and workflow.
func NewContext(env EnvironmentContext, wf WorkflowContext, project ProjectContext) *Context {
	return &Context{
		Steps:       make(map[string]StepContext),
		Environment: env,
		Workflow:    wf,
		Project:     project,
	}
}

// SetStep records a step's outputs. Each step name is written once.
func (c *Context) SetStep(name string, step StepContext) {
	if c.Steps == nil {
		c.Steps = make(map[string]StepContext)
	}
	c.Steps[name] = step
}

func (c *Context) activation() map[string]any {
	steps := make(map[string]any, len(c.Steps))
	for name, s := range c.Steps {
		outputs := make(map[string]any, len(s.Outputs))
		for k, v := range s.Outputs {
			outputs[k] = v
		}
		steps[name] = map[string]any{"outputs": outputs, "log": s.Log}
	}
	return map[string]any{
		"steps": steps,
		"environment": map[string]string{
			"name":      c.Environment.Name,
			"namespace": c.Environment.Namespace,
		},
		"workflow": map[string]string{
			"name":  c.Workflow.Name,
			"runId": c.Workflow.RunID,
		},
		"project": map[string]string{
			"name": c.Project.Name,
			"root": c.Project.Root,
		},
	}
}

// CELResolver evaluates the content of ${...} as a CEL expression.
// A literal "${" is written "$${".
type CELResolver struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELResolver builds the CEL environment shared by all evaluations.
func NewCELResolver() (*CELResolver, error) {
	env, err := cel.NewEnv(
		cel.OptionalTypes(),
		cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("environment", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("workflow", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("project", cel.MapType(cel.StringType, cel.StringType)),
		ext.Strings(),
		ext.Encoders(),
		ext.Math(),
		ext.Lists(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL environment: %w", err)
	}
	return &CELResolver{env: env, programs: make(map[string]cel.Program)}, nil
}

// Resolve renders raw, replacing each expression with the string form of its value.
func (r *CELResolver) Resolve(raw string, ctx *Context) (string, error) {
	segments, err := parseSegments(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrTemplateResolution, err)
	}
	if ctx == nil {
		ctx = &Context{}
	}

	var activation map[string]any
	var b strings.Builder
	for _, seg := range segments {
		if !seg.expr {
			b.WriteString(seg.text)
			continue
		}
		if activation == nil {
			activation = ctx.activation()
		}
		value, err := r.evaluate(seg.text, activation)
		if err != nil {
			return "", fmt.Errorf("%w: ${%s}: %v", errors.ErrTemplateResolution, seg.text, err)
		}
		b.WriteString(value)
	}
	return b.String(), nil
}

func (r *CELResolver) evaluate(expression string, activation map[string]any) (string, error) {
	expression = rewriteDashedStepNames(strings.TrimSpace(expression))
	if expression == "" {
		return "", fmt.Errorf("empty expression")
	}

	program, err := r.program(expression)
	if err != nil {
		return "", err
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return "", err
	}
	return stringify(out)
}

func (r *CELResolver) program(expression string) (cel.Program, error) {
	r.mu.RLock()
	program, ok := r.programs[expression]
	r.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := r.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	program, err := r.env.Program(ast)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.programs[expression] = program
	r.mu.Unlock()
	return program, nil
}

// stepSelector matches steps.<name> where the name contains dashes, which CEL
// would otherwise read as subtraction. Default step names (step-1) need it.
var stepSelector = regexp.MustCompile(`\bsteps\.([A-Za-z0-9_]+(?:-[A-Za-z0-9_]+)+)`)

// rewriteDashedStepNames rewrites steps.build-1 to steps["build-1"] outside
// string literals.
func rewriteDashedStepNames(expression string) string {
	var b strings.Builder
	start := 0
	var quote byte
	for i := 0; i < len(expression); i++ {
		c := expression[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
				b.WriteString(expression[start : i+1])
				start = i + 1
			}
			continue
		}
		if c == '"' || c == '\'' {
			b.WriteString(stepSelector.ReplaceAllString(expression[start:i], `steps["$1"]`))
			start = i
			quote = c
		}
	}
	if quote != 0 {
		b.WriteString(expression[start:])
	} else {
		b.WriteString(stepSelector.ReplaceAllString(expression[start:], `steps["$1"]`))
	}
	return b.String()
}

func stringify(val ref.Val) (string, error) {
	switch val.Type() {
	case types.StringType:
		return val.Value().(string), nil
	case types.BoolType:
		return strconv.FormatBool(val.Value().(bool)), nil
	case types.IntType:
		return strconv.FormatInt(val.Value().(int64), 10), nil
	case types.UintType:
		return strconv.FormatUint(val.Value().(uint64), 10), nil
	case types.DoubleType:
		return strconv.FormatFloat(val.Value().(float64), 'g', -1, 64), nil
	case types.NullType:
		return "", nil
	}

	var target reflect.Type
	switch val.Type() {
	case types.ListType:
		target = reflect.TypeOf([]any{})
	case types.MapType:
		target = reflect.TypeOf(map[string]any{})
	default:
		return fmt.Sprintf("%v", val.Value()), nil
	}
	native, err := val.ConvertToNative(target)
	if err != nil {
		return fmt.Sprintf("%v", val.Value()), nil
	}
	data, err := json.Marshal(native)
	if err != nil {
		return fmt.Sprintf("%v", native), nil
	}
	return string(data), nil
}

type segment struct {
	text string
	expr bool
}

// parseSegments splits raw into literal text and expression bodies, honoring
// nested braces and quoted strings inside expressions.
func parseSegments(raw string) ([]segment, error) {
	var segments []segment
	var literal strings.Builder

	for i := 0; i < len(raw); {
		if strings.HasPrefix(raw[i:], "$${") {
			literal.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(raw[i:], "${") {
			literal.WriteByte(raw[i])
			i++
			continue
		}

		end, err := matchBrace(raw, i+2)
		if err != nil {
			return nil, err
		}
		if literal.Len() > 0 {
			segments = append(segments, segment{text: literal.String()})
			literal.Reset()
		}
		segments = append(segments, segment{text: raw[i+2 : end], expr: true})
		i = end + 1
	}

	if literal.Len() > 0 {
		segments = append(segments, segment{text: literal.String()})
	}
	return segments, nil
}

// matchBrace returns the index of the '}' closing an expression that starts at pos.
func matchBrace(s string, pos int) (int, error) {
	depth := 1
	var quote byte
	for i := pos; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unterminated expression starting at offset %d", pos-2)
}
