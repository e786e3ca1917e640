package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
)

const projectWorkflows = `
kind: Workflow
name: greet
description: Say hello
steps:
  - name: hello
    command: [echo, "hello ${environment.name}"]
  - command: [write-file, --path, out/env.txt, --content, "${steps.hello.outputs.message}"]
triggers:
  - environment: dev
    events: [push]
    branches: ["feature/**"]
---
kind: Workflow
name: broken
steps:
  - command: [hash, --file, does-not-exist]
  - command: [echo, unreachable]
`

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "workflows.yml"), []byte(projectWorkflows), 0o644))
	return root
}

func execute(t *testing.T, args ...string) (string, int) {
	t.Helper()
	workflowFile, historyRunID = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	code := Execute()
	return out.String(), code
}

func TestRunCommandSucceeds(t *testing.T) {
	root := newProject(t)

	out, code := execute(t, "run", "greet", "--root", root, "--env", "qa")
	assert.Equal(t, engine.ExitSucceeded, code, out)
	assert.Contains(t, out, "workflow greet Succeeded")

	data, err := os.ReadFile(filepath.Join(root, "out", "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello qa", string(data))

	out, code = execute(t, "history", "greet", "--root", root)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "Succeeded")
}

func TestRunCommandFailureExitCode(t *testing.T) {
	root := newProject(t)
	out, code := execute(t, "run", "broken", "--root", root)
	assert.Equal(t, engine.ExitFailed, code)
	assert.Contains(t, out, "Skipped")
}

func TestRunUnknownWorkflowIsInvalid(t *testing.T) {
	_, code := execute(t, "run", "nope", "--root", newProject(t))
	assert.Equal(t, engine.ExitInvalid, code)
}

func TestRunFromFile(t *testing.T) {
	root := newProject(t)
	file := filepath.Join(t.TempDir(), "single.yml")
	require.NoError(t, os.WriteFile(file, []byte("kind: Workflow\nname: one\nsteps:\n  - command: [echo, hi]\n"), 0o644))

	out, code := execute(t, "run", "-w", file, "--root", root)
	assert.Equal(t, engine.ExitSucceeded, code, out)
	assert.Contains(t, out, "workflow one Succeeded")
}

func TestValidateAndList(t *testing.T) {
	root := newProject(t)

	out, code := execute(t, "validate", "--root", root)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "ok  broken")
	assert.Contains(t, out, "ok  greet")

	out, code = execute(t, "list", "--root", root)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Say hello")

	bad := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("kind: Workflow\nname: bad\nsteps: []\n"), 0o644))
	_, code = execute(t, "validate", bad)
	assert.Equal(t, engine.ExitInvalid, code)
}

func TestTriggersCommand(t *testing.T) {
	root := newProject(t)

	out, code := execute(t, "triggers", "--root", root, "--event", "push", "--branch", "feature/login")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "dev")

	out, code = execute(t, "triggers", "--root", root, "--event", "push", "--branch", "main")
	assert.Equal(t, 0, code)
	assert.NotContains(t, out, "greet")

	_, code = execute(t, "triggers", "--root", root, "--event", "tag", "--branch", "main")
	assert.Equal(t, engine.ExitInvalid, code)
}

func TestVersionCommand(t *testing.T) {
	out, code := execute(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "workflow-runner")
	assert.Contains(t, out, "echo")
}
