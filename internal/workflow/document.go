package workflow

// Document is the raw `kind: Workflow` YAML document as written by users.
// It is validated and then normalized into a Workflow.
type Document struct {
	Kind           string              `yaml:"kind" validate:"eq=Workflow"`
	Name           string              `yaml:"name" validate:"required,max=64,identifier"`
	Description    string              `yaml:"description,omitempty"`
	EnvVars        map[string]Template `yaml:"envVars,omitempty" validate:"dive,keys,envname,endkeys"`
	Files          []FileDocument      `yaml:"files,omitempty" validate:"dive"`
	Resources      *ResourcesDocument  `yaml:"resources,omitempty"`
	KeepAliveHours *float64            `yaml:"keepAliveHours,omitempty" validate:"omitempty,gt=0"`
	Steps          []StepDocument      `yaml:"steps" validate:"required,min=1,dive"`
	Triggers       []TriggerSpec       `yaml:"triggers,omitempty" validate:"dive"`

	// Limits is the deprecated spelling of resources.limits.
	Limits *PartialResources `yaml:"limits,omitempty"`
}

// FileDocument is one entry of files[].
type FileDocument struct {
	Path       string    `yaml:"path" validate:"required"`
	Data       *Template `yaml:"data,omitempty"`
	SecretName *string   `yaml:"secretName,omitempty"`
}

// ResourcesDocument is the resources block.
type ResourcesDocument struct {
	Requests *PartialResources `yaml:"requests,omitempty"`
	Limits   *PartialResources `yaml:"limits,omitempty"`
}

// PartialResources lets each value fall back to a default independently.
type PartialResources struct {
	CPU    *int `yaml:"cpu,omitempty" validate:"omitempty,gte=0"`
	Memory *int `yaml:"memory,omitempty" validate:"omitempty,gte=0"`
}

// StepDocument is one entry of steps[].
type StepDocument struct {
	Name            string              `yaml:"name,omitempty" validate:"omitempty,max=64,identifier"`
	Description     string              `yaml:"description,omitempty"`
	Command         []Template          `yaml:"command,omitempty"`
	Script          *Template           `yaml:"script,omitempty"`
	EnvVars         map[string]Template `yaml:"envVars,omitempty" validate:"dive,keys,envname,endkeys"`
	Skip            *Template           `yaml:"skip,omitempty"`
	When            *Template           `yaml:"when,omitempty"`
	ContinueOnError bool                `yaml:"continueOnError,omitempty"`
}

// Normalize converts a document into the canonical Workflow. It does not
// validate: callers are expected to run Validate first. Where the document is
// ambiguous it picks deterministically: inline data beats secretName, script
// beats command, and resources.limits beats the deprecated top-level limits.
func Normalize(doc *Document, source string) *Workflow {
	wf := &Workflow{
		Name:           doc.Name,
		Description:    doc.Description,
		EnvVars:        copyTemplates(doc.EnvVars),
		Resources:      normalizeResources(doc),
		KeepAliveHours: DefaultKeepAliveHours,
		Triggers:       append([]TriggerSpec(nil), doc.Triggers...),
		Path:           source,
	}
	if doc.KeepAliveHours != nil {
		wf.KeepAliveHours = *doc.KeepAliveHours
	}

	for _, f := range doc.Files {
		spec := FileSpec{Path: f.Path}
		switch {
		case f.Data != nil:
			spec.Content = InlineContent{Data: *f.Data}
		case f.SecretName != nil:
			spec.Content = SecretContent{Name: *f.SecretName}
		default:
			spec.Content = InlineContent{}
		}
		wf.Files = append(wf.Files, spec)
	}

	for i, s := range doc.Steps {
		index := i + 1
		step := StepSpec{
			Index:           index,
			Name:            s.Name,
			Description:     s.Description,
			EnvVars:         copyTemplates(s.EnvVars),
			Skip:            "false",
			When:            Template(WhenOnSuccess),
			ContinueOnError: s.ContinueOnError,
		}
		if step.Name == "" {
			step.Name = DefaultStepName(index)
		}
		if s.Skip != nil && *s.Skip != "" {
			step.Skip = *s.Skip
		}
		if s.When != nil && *s.When != "" {
			step.When = *s.When
		}
		if s.Script != nil {
			step.Body = ScriptBody{Text: *s.Script}
		} else {
			step.Body = CommandBody{Args: append([]Template(nil), s.Command...)}
		}
		wf.Steps = append(wf.Steps, step)
	}

	return wf
}

func normalizeResources(doc *Document) ResourceSpec {
	res := DefaultResources()

	// Deprecated field first so the canonical block overrides it.
	applyPartial(&res.Limits, doc.Limits)
	if doc.Resources != nil {
		applyPartial(&res.Requests, doc.Resources.Requests)
		applyPartial(&res.Limits, doc.Resources.Limits)
	}
	return res
}

func applyPartial(dst *ResourceValues, p *PartialResources) {
	if p == nil {
		return
	}
	if p.CPU != nil {
		dst.CPU = *p.CPU
	}
	if p.Memory != nil {
		dst.Memory = *p.Memory
	}
}

func copyTemplates(in map[string]Template) map[string]Template {
	out := make(map[string]Template, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
