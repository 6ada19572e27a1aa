package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
logging:
  level: error
models:
  - name: m
    provider: mock
    responses:
      hi: hello there
agents:
  - name: writer
    type: model
    model: m
    description: Writes greetings
`

func writeConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "agentweave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := buildRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestRunCmd(t *testing.T) {
	out, err := execute(t, "", "run", "--config", writeConfig(t), "--agent", "writer", "--input", `{"message":"hi"}`)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "hello there", result["output"])
}

func TestRunCmd_StreamFromStdin(t *testing.T) {
	out, err := execute(t, `{"message":"hi"}`, "run", "-c", writeConfig(t), "-a", "writer", "-i", "-", "--stream")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "hello there\n"), out)
	assert.Contains(t, out, `"output": "hello there"`)
}

func TestRunCmd_UnknownAgent(t *testing.T) {
	_, err := execute(t, "", "run", "--config", writeConfig(t), "--agent", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestRunCmd_InvalidInput(t *testing.T) {
	_, err := execute(t, "", "run", "--config", writeConfig(t), "--agent", "writer", "--input", "[1]")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON object")
}

func TestAgentsCmd(t *testing.T) {
	out, err := execute(t, "", "agents", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "writer")
	assert.Contains(t, out, "Writes greetings")
}
