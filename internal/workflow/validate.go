package workflow

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)
	envNamePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

// GlobalFlags are CLI flags that configure the whole run. They are fixed
// before the first step starts, so command steps may not set them.
var GlobalFlags = []string{"env", "namespace", "config", "debug", "log-format", "log-file", "root", "workflow"}

// globalShortFlags are the one-letter aliases of GlobalFlags.
var globalShortFlags = []string{"w"}

// IsGlobalFlag reports whether a command argument sets one of the GlobalFlags.
func IsGlobalFlag(arg string) bool {
	var name string
	switch {
	case strings.HasPrefix(arg, "--"):
		name = strings.TrimPrefix(arg, "--")
	case strings.HasPrefix(arg, "-") && len(arg) > 1:
		name = strings.TrimPrefix(arg, "-")
		name, _, _ = strings.Cut(name, "=")
		for _, f := range globalShortFlags {
			if name == f {
				return true
			}
		}
		return false
	default:
		return false
	}
	name, _, _ = strings.Cut(name, "=")
	for _, f := range GlobalFlags {
		if name == f {
			return true
		}
	}
	return false
}

// Validator checks workflow documents before they are normalized.
type Validator struct {
	// Commands lists the built-in command names; nil skips the check.
	Commands []string
}

func getStructValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return identifierPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
			return envNamePattern.MatchString(fl.Field().String())
		})
		structValidator = v
	})
	return structValidator
}

// Validate returns a *errors.ValidationError listing every problem in doc, or nil.
func (val *Validator) Validate(doc *Document, source string) error {
	var problems []string

	if err := getStructValidator().Struct(doc); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				problems = append(problems, describeFieldError(fe))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	problems = append(problems, val.checkFiles(doc)...)
	problems = append(problems, val.checkSteps(doc)...)

	if len(problems) == 0 {
		return nil
	}
	return &errors.ValidationError{Workflow: doc.Name, Source: source, Problems: problems}
}

func describeFieldError(fe validator.FieldError) string {
	// Drop the root struct name from the namespace.
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Tag() {
	case "required":
		if fe.Field() == "steps" {
			return "steps: at least one step is required"
		}
		return fmt.Sprintf("%s: is required", field)
	case "min":
		if fe.Field() == "steps" {
			return "steps: at least one step is required"
		}
		return fmt.Sprintf("%s: must contain at least %s entries", field, fe.Param())
	case "identifier":
		return fmt.Sprintf("%s: %q must start with a letter or digit and contain only letters, digits, '-' and '_'", field, fe.Value())
	case "envname":
		return fmt.Sprintf("%s: %q is not a valid environment variable name", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s: %q must be one of [%s]", field, fe.Value(), fe.Param())
	case "eq":
		return fmt.Sprintf("%s: must be %q", field, fe.Param())
	case "gte", "gt":
		return fmt.Sprintf("%s: must be %s %s", field, map[string]string{"gte": ">=", "gt": ">"}[fe.Tag()], fe.Param())
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %q validation", field, fe.Tag())
	}
}

func (val *Validator) checkFiles(doc *Document) []string {
	var problems []string
	for i, f := range doc.Files {
		if f.Data != nil && f.SecretName != nil {
			problems = append(problems, fmt.Sprintf("files[%d]: only one of data and secretName may be set", i))
		}
		if f.SecretName != nil && strings.TrimSpace(*f.SecretName) == "" {
			problems = append(problems, fmt.Sprintf("files[%d].secretName: must not be empty", i))
		}
	}
	return problems
}

func (val *Validator) checkSteps(doc *Document) []string {
	var problems []string
	seen := make(map[string]int, len(doc.Steps))

	for i, s := range doc.Steps {
		index := i + 1
		name := s.Name
		if name == "" {
			name = DefaultStepName(index)
		}
		label := fmt.Sprintf("steps[%d] (%s)", i, name)

		if prev, dup := seen[name]; dup {
			problems = append(problems, fmt.Sprintf("%s: name is already used by step %d", label, prev))
		} else {
			seen[name] = index
		}

		hasCommand := len(s.Command) > 0
		hasScript := s.Script != nil
		switch {
		case hasCommand && hasScript:
			problems = append(problems, fmt.Sprintf("%s: only one of command and script may be set", label))
		case !hasCommand && !hasScript:
			problems = append(problems, fmt.Sprintf("%s: one of command or script is required", label))
		case hasScript && strings.TrimSpace(s.Script.String()) == "":
			problems = append(problems, fmt.Sprintf("%s: script must not be empty", label))
		case hasCommand:
			problems = append(problems, val.checkCommand(label, s.Command)...)
		}

		if s.When != nil && !s.When.IsTemplated() {
			if _, err := ParseWhen(s.When.String()); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", label, err))
			}
		}
		if s.Skip != nil && !s.Skip.IsTemplated() && s.Skip.String() != "" {
			if _, err := strconv.ParseBool(s.Skip.String()); err != nil {
				problems = append(problems, fmt.Sprintf("%s: skip must be a boolean or a template, got %q", label, s.Skip.String()))
			}
		}
	}
	return problems
}

func (val *Validator) checkCommand(label string, args []Template) []string {
	var problems []string

	name := args[0]
	if !name.IsTemplated() && val.Commands != nil && !contains(val.Commands, name.String()) {
		problems = append(problems, fmt.Sprintf("%s: unknown command %q (available: %s)", label, name, strings.Join(val.Commands, ", ")))
	}
	for _, arg := range args[1:] {
		if !arg.IsTemplated() && IsGlobalFlag(arg.String()) {
			problems = append(problems, fmt.Sprintf("%s: global flag %q cannot be set by a workflow command", label, arg))
		}
	}
	return problems
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
