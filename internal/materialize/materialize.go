// Package materialize writes a workflow's declared files to disk before any
// of its steps run.
package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/secrets"
	"github.com/deploymenttheory/go-workflow-runner/internal/template"
	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/fsutil"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

const (
	// defaultConcurrency bounds concurrent secret lookups.
	defaultConcurrency = 4

	inlineFileMode os.FileMode = 0644
	secretFileMode os.FileMode = 0600
)

// Materializer resolves file contents and writes them under a project root.
type Materializer struct {
	Secrets     secrets.Provider
	Resolver    template.Resolver
	Concurrency int
}

// Result describes what happened to one file.
type Result struct {
	Path      string
	Written   bool
	Overwrote bool
}

type pending struct {
	spec   workflow.FileSpec
	target string
	data   []byte
	mode   os.FileMode
}

// Materialize writes every file in order. All contents are resolved first so
// a missing secret or a bad template fails the run before anything on disk
// changes. Existing files are overwritten; a file that already holds the
// resolved content is left untouched.
func (m *Materializer) Materialize(ctx context.Context, workflowName string, files []workflow.FileSpec, projectRoot string, tctx *template.Context) ([]Result, error) {
	if len(files) == 0 {
		return nil, nil
	}

	items := make([]*pending, len(files))
	for i, f := range files {
		if f.Path == "" {
			return nil, &errors.FileError{Workflow: workflowName, Path: f.Path,
				Err: fmt.Errorf("%w: empty path", errors.ErrInvalidArgument)}
		}
		target := f.Path
		if !filepath.IsAbs(target) {
			target = filepath.Join(projectRoot, target)
		}
		items[i] = &pending{spec: f, target: filepath.Clean(target)}
	}

	if err := m.resolveContents(ctx, workflowName, items, tctx); err != nil {
		return nil, err
	}

	for _, it := range items {
		if err := checkConflict(it.target); err != nil {
			return nil, &errors.FileError{Workflow: workflowName, Path: it.spec.Path, Err: err}
		}
	}

	results := make([]Result, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("%w: %v", errors.ErrCancelled, err)
		}
		res, err := write(it)
		if err != nil {
			return results, &errors.FileError{Workflow: workflowName, Path: it.spec.Path, Err: err}
		}
		fields := map[string]interface{}{
			"workflow": workflowName,
			"path":     it.target,
			"bytes":    len(it.data),
		}
		switch {
		case res.Overwrote:
			logger.LogWarn("Overwrote existing file", fields)
		case res.Written:
			logger.LogDebug("Wrote file", fields)
		default:
			logger.LogDebug("File already up to date", fields)
		}
		results = append(results, res)
	}
	return results, nil
}

func (m *Materializer) resolveContents(ctx context.Context, workflowName string, items []*pending, tctx *template.Context) error {
	limit := m.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	fail := func(err error) error {
		_ = g.Wait()
		return err
	}

	for _, it := range items {
		switch c := it.spec.Content.(type) {
		case workflow.SecretContent:
			if m.Secrets == nil {
				return fail(&errors.FileError{Workflow: workflowName, Path: it.spec.Path,
					Err: fmt.Errorf("%w: %q (no secret provider configured)", errors.ErrSecretNotFound, c.Name)})
			}
			g.Go(func() error {
				value, err := m.Secrets.FetchSecret(gctx, c.Name)
				if err != nil {
					return &errors.FileError{Workflow: workflowName, Path: it.spec.Path, Err: err}
				}
				it.data = []byte(value)
				it.mode = secretFileMode
				return nil
			})
		case workflow.InlineContent:
			data, err := m.resolve(c.Data, tctx)
			if err != nil {
				return fail(&errors.FileError{Workflow: workflowName, Path: it.spec.Path, Err: err})
			}
			it.data = []byte(data)
			it.mode = inlineFileMode
		case nil:
			it.mode = inlineFileMode
		default:
			return fail(&errors.FileError{Workflow: workflowName, Path: it.spec.Path,
				Err: fmt.Errorf("%w: unsupported file content %T", errors.ErrInvalidArgument, c)})
		}
	}
	return g.Wait()
}

func (m *Materializer) resolve(raw workflow.Template, tctx *template.Context) (string, error) {
	if m.Resolver == nil {
		return raw.String(), nil
	}
	return m.Resolver.Resolve(raw.String(), tctx)
}

// checkConflict reports errors.ErrPathConflict when target is a directory or
// one of its parents exists as something other than a directory.
func checkConflict(target string) error {
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", errors.ErrPathConflict, target)
	}
	blocker, err := fsutil.FindNonDirAncestor(filepath.Dir(target))
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPathNotAccessible, err)
	}
	if blocker != "" {
		return fmt.Errorf("%w: %s exists and is not a directory", errors.ErrPathConflict, blocker)
	}
	return nil
}

func write(it *pending) (Result, error) {
	res := Result{Path: it.target}

	// Re-check: an earlier file in the same list may have created a blocker.
	if err := checkConflict(it.target); err != nil {
		return res, err
	}
	if err := fsutil.CreateDirIfNotExists(filepath.Dir(it.target)); err != nil {
		return res, fmt.Errorf("%w: creating parent directories: %v", errors.ErrFileWriteError, err)
	}

	written, overwrote, err := fsutil.WriteFileIfChanged(it.target, it.data, it.mode)
	if err != nil {
		return res, fmt.Errorf("%w: %v", errors.ErrFileWriteError, err)
	}
	res.Written = written
	res.Overwrote = overwrote
	return res, nil
}
