package materialize

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-workflow-runner/internal/secrets"
	"github.com/deploymenttheory/go-workflow-runner/internal/template"
	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/workflow"
)

func newMaterializer(t *testing.T, provider secrets.Provider) *Materializer {
	t.Helper()
	resolver, err := template.NewCELResolver()
	require.NoError(t, err)
	return &Materializer{Secrets: provider, Resolver: resolver}
}

func inline(path, data string) workflow.FileSpec {
	return workflow.FileSpec{Path: path, Content: workflow.InlineContent{Data: workflow.Template(data)}}
}

func TestMaterializeCreatesParentDirectories(t *testing.T) {
	root := t.TempDir()
	m := newMaterializer(t, nil)

	results, err := m.Materialize(context.Background(), "wf", []workflow.FileSpec{inline("a/b/file.txt", "hello")}, root, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Written)
	assert.False(t, results[0].Overwrote)

	data, err := os.ReadFile(filepath.Join(root, "a", "b", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMaterializeIsIdempotent(t *testing.T) {
	root := t.TempDir()
	m := newMaterializer(t, secrets.StaticProvider{"token": "s3cr3t"})
	files := []workflow.FileSpec{
		inline("conf/app.env", "ENV=dev"),
		{Path: "conf/token", Content: workflow.SecretContent{Name: "token"}},
	}

	_, err := m.Materialize(context.Background(), "wf", files, root, nil)
	require.NoError(t, err)

	path := filepath.Join(root, "conf", "app.env")
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	results, err := m.Materialize(context.Background(), "wf", files, root, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, r.Written, r.Path)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "unchanged file must not be rewritten")

	token, err := os.ReadFile(filepath.Join(root, "conf", "token"))
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(token))
}

func TestMaterializeOverwritesExistingContent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	results, err := newMaterializer(t, nil).Materialize(context.Background(), "wf", []workflow.FileSpec{inline("out.txt", "new")}, root, nil)
	require.NoError(t, err)
	assert.True(t, results[0].Overwrote)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestMaterializeResolvesTemplatesAndDefaults(t *testing.T) {
	root := t.TempDir()
	abs := filepath.Join(t.TempDir(), "abs.txt")
	tctx := template.NewContext(template.EnvironmentContext{Name: "staging"}, template.WorkflowContext{Name: "wf"}, template.ProjectContext{})

	files := []workflow.FileSpec{
		inline("env.txt", "ENV=${environment.name} HOME=$${HOME}"),
		{Path: "empty.txt", Content: workflow.InlineContent{}},
		inline(abs, "absolute"),
	}
	_, err := newMaterializer(t, nil).Materialize(context.Background(), "wf", files, root, tctx)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ENV=staging HOME=${HOME}", string(data))

	data, err = os.ReadFile(filepath.Join(root, "empty.txt"))
	require.NoError(t, err)
	assert.Empty(t, data)

	data, err = os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, "absolute", string(data))
}

func TestMaterializePathConflicts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("file"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0755))
	m := newMaterializer(t, nil)

	cases := map[string]workflow.FileSpec{
		"parent is a file": inline("a/b/file.txt", "x"),
		"target is a dir":  inline("dir", "x"),
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.Materialize(context.Background(), "wf", []workflow.FileSpec{spec}, root, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrPathConflict))

			var fileErr *errors.FileError
			require.True(t, errors.As(err, &fileErr))
			assert.Equal(t, "wf", fileErr.Workflow)
			assert.Equal(t, spec.Path, fileErr.Path)
		})
	}
}

func TestMaterializeConflictWritesNothing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "blocker"), []byte("file"), 0644))

	files := []workflow.FileSpec{
		inline("first.txt", "ok"),
		inline("blocker/second.txt", "conflict"),
	}
	_, err := newMaterializer(t, nil).Materialize(context.Background(), "wf", files, root, nil)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(root, "first.txt"))
}

func TestMaterializeMissingSecretAbortsBeforeWriting(t *testing.T) {
	root := t.TempDir()
	files := []workflow.FileSpec{
		inline("first.txt", "ok"),
		{Path: "token", Content: workflow.SecretContent{Name: "missing"}},
	}

	_, err := newMaterializer(t, secrets.StaticProvider{}).Materialize(context.Background(), "wf", files, root, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSecretNotFound))
	assert.NoFileExists(t, filepath.Join(root, "first.txt"))

	_, err = newMaterializer(t, nil).Materialize(context.Background(), "wf", files, root, nil)
	assert.True(t, errors.Is(err, errors.ErrSecretNotFound))
}

func TestMaterializeTemplateErrorIsReported(t *testing.T) {
	_, err := newMaterializer(t, nil).Materialize(context.Background(), "wf",
		[]workflow.FileSpec{inline("x.txt", "${steps.nope.outputs.value}")}, t.TempDir(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTemplateResolution))
}
