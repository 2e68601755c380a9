package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFixtureProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"),
		[]byte("import os\n# TODO: cleanup\n"), 0o644))
	return dir
}

func TestToolRunCommand(t *testing.T) {
	dir := writeFixtureProject(t)

	out, err := runCLI(t,
		"--dir", dir, "--json",
		"tool", "run", "grep",
		"--param", "pattern=TODO",
		"--param", "root="+dir)
	require.NoError(t, err)

	var res struct {
		OK      bool           `json:"ok"`
		Summary map[string]any `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.OK)
	assert.Equal(t, 1.0, res.Summary["hits"])
}

func TestToolRunCommand_UnknownDomain(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "--dir", dir, "tool", "run", "nonsense")
	require.Error(t, err)
}

func TestToolListCommand(t *testing.T) {
	t.Setenv("SEARCHLAB_OPENAI_API_KEY", "")
	dir := t.TempDir()

	out, err := runCLI(t, "--dir", dir, "--json", "tool", "list")
	require.NoError(t, err)

	var res struct {
		Available   []string          `json:"available"`
		Unavailable map[string]string `json:"unavailable"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, res.Available, "grep")
	assert.Contains(t, res.Available, "find")
	assert.Contains(t, res.Unavailable, "semantic")
}

func TestPipelineRunCommand(t *testing.T) {
	dir := writeFixtureProject(t)

	pipelinePath := filepath.Join(dir, "pipeline.yaml")
	def := `stages:
  - domain: find
    params:
      glob: "*.py"
  - domain: grep
    params:
      pattern: TODO
input:
  root: ` + dir + "\n"
	require.NoError(t, os.WriteFile(pipelinePath, []byte(def), 0o644))

	out, err := runCLI(t,
		"--dir", dir, "--json",
		"pipeline", "run", "--file", pipelinePath, "--run-id", "run-cli")
	require.NoError(t, err)

	var res struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		Outputs []any  `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "run-cli", res.RunID)
	assert.Equal(t, "ok", res.Status)
	assert.Len(t, res.Outputs, 2)
}

func TestSchemasCommand(t *testing.T) {
	t.Setenv("SEARCHLAB_OPENAI_API_KEY", "")
	dir := t.TempDir()

	out, err := runCLI(t, "--dir", dir, "--json", "schemas")
	require.NoError(t, err)

	var specs []struct {
		Type     string `json:"type"`
		Function struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"function"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &specs))
	require.Len(t, specs, 4)
	for _, s := range specs {
		assert.Equal(t, "function", s.Type)
		assert.NotEmpty(t, s.Function.Name)
		assert.NotNil(t, s.Function.Parameters)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, "--dir", dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, ".searchlab.yaml")

	require.FileExists(t, filepath.Join(dir, ".searchlab.yaml"))
	require.DirExists(t, filepath.Join(dir, ".searchlab"))

	// A second init without --force must not clobber the file.
	_, err = runCLI(t, "--dir", dir, "init")
	require.Error(t, err)
	_, err = runCLI(t, "--dir", dir, "init", "--force")
	require.NoError(t, err)
}

func TestParseInput(t *testing.T) {
	input, err := parseInput(`{"pattern": "TODO"}`, []string{"topk=5", "root=/tmp/x"})
	require.NoError(t, err)
	assert.Equal(t, "TODO", input["pattern"])
	assert.Equal(t, 5.0, input["topk"])
	assert.Equal(t, "/tmp/x", input["root"])

	_, err = parseInput("", []string{"no-equals"})
	require.Error(t, err)

	_, err = parseInput("{bad json", nil)
	require.Error(t, err)
}
