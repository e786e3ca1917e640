package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

var testCommands = []string{"echo", "compress", "extract", "hash"}

const fullWorkflow = `
kind: Project
name: demo
---
kind: Workflow
name: deploy
description: Build, test and deploy
envVars:
  LOG_LEVEL: debug
  RETRIES: 3
files:
  - path: config/app.env
    data: "ENV=${environment.name}"
  - path: /tmp/token
    secretName: deploy-token
  - path: empty.txt
resources:
  requests:
    cpu: 100
limits:
  cpu: 500
  memory: 2048
keepAliveHours: 12
steps:
  - name: build
    script: make build
    envVars:
      GOFLAGS: -mod=mod
  - command: [echo, "${steps.build.outputs.log}"]
    when: always
  - name: deploy
    script: ./deploy.sh
    skip: true
    continueOnError: true
triggers:
  - environment: staging
    events: [push, pull-request]
    branches: [main]
`

func TestParseNormalizesWorkflow(t *testing.T) {
	workflows, err := NewLoader(testCommands).Parse([]byte(fullWorkflow), "garden.yml")
	require.NoError(t, err)
	require.Len(t, workflows, 1, "non-workflow documents are ignored")

	wf := workflows[0]
	assert.Equal(t, "deploy", wf.Name)
	assert.Equal(t, "garden.yml", wf.Path)
	assert.Equal(t, Template("3"), wf.EnvVars["RETRIES"])
	assert.Equal(t, 12.0, wf.KeepAliveHours)

	require.Len(t, wf.Files, 3)
	assert.Equal(t, InlineContent{Data: "ENV=${environment.name}"}, wf.Files[0].Content)
	assert.Equal(t, SecretContent{Name: "deploy-token"}, wf.Files[1].Content)
	assert.Equal(t, InlineContent{}, wf.Files[2].Content)

	assert.Equal(t, ResourceValues{CPU: 100, Memory: 64}, wf.Resources.Requests)
	assert.Equal(t, ResourceValues{CPU: 500, Memory: 2048}, wf.Resources.Limits)

	require.Len(t, wf.Steps, 3)
	assert.Equal(t, []string{"build", "step-2", "deploy"}, wf.StepNames())

	build := wf.Steps[0]
	assert.Equal(t, 1, build.Index)
	assert.Equal(t, ScriptBody{Text: "make build"}, build.Body)
	assert.Equal(t, Template("false"), build.Skip)
	assert.Equal(t, Template(WhenOnSuccess), build.When)
	assert.Equal(t, Template("-mod=mod"), build.EnvVars["GOFLAGS"])

	echo := wf.Steps[1]
	assert.Equal(t, CommandBody{Args: []Template{"echo", "${steps.build.outputs.log}"}}, echo.Body)
	assert.Equal(t, Template(WhenAlways), echo.When)

	deploy := wf.Steps[2]
	assert.Equal(t, Template("true"), deploy.Skip)
	assert.True(t, deploy.ContinueOnError)

	require.Len(t, wf.Triggers, 1)
	assert.Equal(t, []Event{EventPush, EventPullRequest}, wf.Triggers[0].Events)
}

func TestResourcesLimitsTakePrecedenceOverDeprecatedLimits(t *testing.T) {
	doc := `
kind: Workflow
name: res
limits:
  cpu: 300
  memory: 300
resources:
  limits:
    cpu: 2000
steps:
  - script: "true"
`
	workflows, err := NewLoader(nil).Parse([]byte(doc), "res.yml")
	require.NoError(t, err)
	assert.Equal(t, ResourceValues{CPU: 2000, Memory: 300}, workflows[0].Resources.Limits)
	assert.Equal(t, DefaultResources().Requests, workflows[0].Resources.Requests)
	assert.Equal(t, float64(DefaultKeepAliveHours), workflows[0].KeepAliveHours)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	doc := `
kind: Workflow
name: typo
stepz: []
steps:
  - script: "true"
`
	_, err := NewLoader(nil).Parse([]byte(doc), "typo.yml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestParseRejectsInvalidWorkflows(t *testing.T) {
	cases := map[string]struct {
		doc     string
		problem string
	}{
		"no steps": {
			doc:     "kind: Workflow\nname: empty\nsteps: []\n",
			problem: "steps: at least one step is required",
		},
		"missing name": {
			doc:     "kind: Workflow\nsteps:\n  - script: \"true\"\n",
			problem: "name: is required",
		},
		"command and script": {
			doc:     "kind: Workflow\nname: both\nsteps:\n  - command: [echo]\n    script: echo\n",
			problem: "only one of command and script may be set",
		},
		"neither command nor script": {
			doc:     "kind: Workflow\nname: none\nsteps:\n  - name: idle\n",
			problem: "one of command or script is required",
		},
		"duplicate step names": {
			doc:     "kind: Workflow\nname: dup\nsteps:\n  - name: a\n    script: \"true\"\n  - name: a\n    script: \"true\"\n",
			problem: "name is already used by step 1",
		},
		"bad when": {
			doc:     "kind: Workflow\nname: when\nsteps:\n  - script: \"true\"\n    when: sometimes\n",
			problem: `invalid when value "sometimes"`,
		},
		"bad skip": {
			doc:     "kind: Workflow\nname: skip\nsteps:\n  - script: \"true\"\n    skip: maybe\n",
			problem: "skip must be a boolean or a template",
		},
		"unknown command": {
			doc:     "kind: Workflow\nname: cmd\nsteps:\n  - command: [deploy]\n",
			problem: `unknown command "deploy"`,
		},
		"global flag": {
			doc:     "kind: Workflow\nname: flag\nsteps:\n  - command: [echo, --env=prod]\n",
			problem: `global flag "--env=prod"`,
		},
		"data and secretName": {
			doc:     "kind: Workflow\nname: file\nfiles:\n  - path: a\n    data: x\n    secretName: y\nsteps:\n  - script: \"true\"\n",
			problem: "only one of data and secretName may be set",
		},
		"bad event": {
			doc:     "kind: Workflow\nname: trig\nsteps:\n  - script: \"true\"\ntriggers:\n  - environment: dev\n    events: [tag]\n",
			problem: `"tag" must be one of`,
		},
		"bad env name": {
			doc:     "kind: Workflow\nname: env\nenvVars:\n  1BAD: x\nsteps:\n  - script: \"true\"\n",
			problem: "not a valid environment variable name",
		},
		"negative resources": {
			doc:     "kind: Workflow\nname: res\nresources:\n  limits:\n    cpu: -1\nsteps:\n  - script: \"true\"\n",
			problem: "must be >= 0",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader(testCommands).Parse([]byte(tc.doc), "bad.yml")
			require.Error(t, err)

			var vErr *errors.ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %T: %v", err, err)
			assert.Contains(t, vErr.Error(), tc.problem)
		})
	}
}

func TestTemplatedConditionsAreDeferred(t *testing.T) {
	doc := `
kind: Workflow
name: deferred
steps:
  - script: "true"
    when: '${environment.name == "prod" ? "always" : "never"}'
    skip: ${environment.namespace == ""}
`
	workflows, err := NewLoader(nil).Parse([]byte(doc), "deferred.yml")
	require.NoError(t, err)
	assert.True(t, workflows[0].Steps[0].When.IsTemplated())
	assert.True(t, workflows[0].Steps[0].Skip.IsTemplated())
}

func TestLoadProjectDiscoversAndRejectsDuplicates(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	write("workflows/ci.yml", "kind: Workflow\nname: ci\nsteps:\n  - script: \"true\"\n")
	write("services/api/garden.yaml", "kind: Workflow\nname: release\nsteps:\n  - script: \"true\"\n")
	write("node_modules/pkg/ci.yml", "kind: Workflow\nname: ci\nsteps:\n  - script: \"true\"\n")
	write("README.md", "# not yaml")

	include := []string{"**/*.yml", "**/*.yaml"}
	exclude := []string{"**/node_modules/**"}

	project, err := NewLoader(nil).LoadProject(root, include, exclude)
	require.NoError(t, err)

	names := []string{}
	for _, wf := range project.Workflows() {
		names = append(names, wf.Name)
	}
	assert.Equal(t, []string{"ci", "release"}, names)

	_, err = project.Get("missing")
	assert.True(t, errors.Is(err, errors.ErrWorkflowNotFound))

	write("other/ci.yml", "kind: Workflow\nname: ci\nsteps:\n  - script: \"true\"\n")
	_, err = NewLoader(nil).LoadProject(root, include, exclude)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate workflow name")
}

func TestIsGlobalFlag(t *testing.T) {
	assert.True(t, IsGlobalFlag("--env"))
	assert.True(t, IsGlobalFlag("--log-format=json"))
	assert.True(t, IsGlobalFlag("-w"))
	assert.False(t, IsGlobalFlag("--format"))
	assert.False(t, IsGlobalFlag("env"))
	assert.False(t, IsGlobalFlag("-v"))
}

func TestParseWhen(t *testing.T) {
	w, err := ParseWhen(" onError ")
	require.NoError(t, err)
	assert.Equal(t, WhenOnError, w)

	w, err = ParseWhen("")
	require.NoError(t, err)
	assert.Equal(t, WhenOnSuccess, w)

	_, err = ParseWhen("OnError")
	assert.Error(t, err)
}
