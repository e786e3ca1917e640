package workflow

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/parser"

	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// maxDocumentSizeBytes bounds the size of a single workflow file (1MB).
const maxDocumentSizeBytes = 1 * 1024 * 1024

// Loader reads workflow documents from YAML.
type Loader struct {
	Validator *Validator
}

// NewLoader creates a loader that validates against the given built-in command names.
func NewLoader(commands []string) *Loader {
	return &Loader{Validator: &Validator{Commands: commands}}
}

// Parse decodes every `kind: Workflow` document in data. Other documents are
// ignored. Any decoding or validation problem is returned as a *errors.ValidationError.
func (l *Loader) Parse(data []byte, source string) ([]*Workflow, error) {
	if len(data) > maxDocumentSizeBytes {
		return nil, &errors.ValidationError{Source: source, Problems: []string{
			fmt.Sprintf("file exceeds maximum size of %d bytes", maxDocumentSizeBytes),
		}}
	}
	if bytes.Contains(data, []byte{0x00}) {
		return nil, &errors.ValidationError{Source: source, Problems: []string{"file contains null bytes"}}
	}

	file, err := parser.ParseBytes(data, 0)
	if err != nil {
		return nil, &errors.ValidationError{Source: source, Problems: []string{
			fmt.Sprintf("%v: %s", errors.ErrConfigParseError, err.Error()),
		}}
	}

	var workflows []*Workflow
	for _, doc := range file.Docs {
		if doc == nil || doc.Body == nil {
			continue
		}

		var header struct {
			Kind string `yaml:"kind"`
		}
		if err := yaml.NodeToValue(doc.Body, &header); err != nil || header.Kind != Kind {
			continue
		}

		var wfDoc Document
		if err := yaml.NodeToValue(doc.Body, &wfDoc, yaml.DisallowUnknownField()); err != nil {
			return nil, &errors.ValidationError{Source: source, Problems: []string{
				fmt.Sprintf("%v: %s", errors.ErrConfigParseError, err.Error()),
			}}
		}

		if l.Validator != nil {
			if err := l.Validator.Validate(&wfDoc, source); err != nil {
				return nil, err
			}
		}
		workflows = append(workflows, Normalize(&wfDoc, source))
	}
	return workflows, nil
}

// LoadFile reads and parses a single workflow file.
func (l *Loader) LoadFile(path string) ([]*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}
	return l.Parse(data, path)
}

// Project is the set of workflows declared under a project root.
type Project struct {
	Root      string
	workflows map[string]*Workflow
}

// NewProject builds a project from already loaded workflows, rejecting duplicate names.
func NewProject(root string, workflows []*Workflow) (*Project, error) {
	p := &Project{Root: root, workflows: make(map[string]*Workflow, len(workflows))}
	var problems []string
	for _, wf := range workflows {
		if prev, dup := p.workflows[wf.Name]; dup {
			problems = append(problems, fmt.Sprintf("%v: %q is declared in both %s and %s",
				errors.ErrDuplicateWorkflow, wf.Name, prev.Path, wf.Path))
			continue
		}
		p.workflows[wf.Name] = wf
	}
	if len(problems) > 0 {
		return nil, &errors.ValidationError{Source: root, Problems: problems}
	}
	return p, nil
}

// Get returns the workflow with the given name.
func (p *Project) Get(name string) (*Workflow, error) {
	wf, ok := p.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrWorkflowNotFound, name)
	}
	return wf, nil
}

// Workflows returns all workflows sorted by name.
func (p *Project) Workflows() []*Workflow {
	out := make([]*Workflow, 0, len(p.workflows))
	for _, wf := range p.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadProject discovers workflow files under root and loads them all.
// Paths are matched relative to root with doublestar patterns; excludes win.
func (l *Loader) LoadProject(root string, include, exclude []string) (*Project, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	files, err := DiscoverFiles(absRoot, include, exclude)
	if err != nil {
		return nil, err
	}

	var all []*Workflow
	for _, rel := range files {
		path := filepath.Join(absRoot, filepath.FromSlash(rel))
		wfs, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if len(wfs) > 0 {
			logger.LogDebug("Loaded workflow file", map[string]interface{}{
				"file":      rel,
				"workflows": len(wfs),
			})
		}
		all = append(all, wfs...)
	}
	return NewProject(absRoot, all)
}

// DiscoverFiles returns the slash-separated paths under root matching any
// include pattern and no exclude pattern, in lexical order.
func DiscoverFiles(root string, include, exclude []string) ([]string, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: invalid glob pattern %q", errors.ErrInvalidArgument, p)
		}
	}

	fsys := os.DirFS(root)
	var files []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			return nil
		}
		if d.IsDir() {
			if matchAny(exclude, path+"/") || matchAny(exclude, path) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchAny(include, path) && !matchAny(exclude, path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering workflow files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if doublestar.MatchUnvalidated(p, path) {
			return true
		}
	}
	return false
}
