package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLogscan_Usage(t *testing.T) {
	_, err := execute()
	assert.Error(t, err)
	_, err = execute("a.log", "b.log")
	assert.Error(t, err)
}

func TestLogscan_MissingFile(t *testing.T) {
	_, err := execute(filepath.Join(t.TempDir(), "nope.log"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log file not found")
}

func TestLogscan_Analyzes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.log")
	require.NoError(t, os.WriteFile(path, []byte("step 1\nAidl not found, please install it.\nstep 3\n"), 0644))

	out, err := execute(path)
	require.NoError(t, err)
	assert.Contains(t, out, "Analyzing log file: "+path)
	assert.Contains(t, out, "Log size: 49 characters")
	assert.Contains(t, out, "Found 1 error(s):")
	assert.Contains(t, out, "Recommended actions:")
}

func TestLogscan_CleanLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.log")
	require.NoError(t, os.WriteFile(path, []byte("BUILD SUCCESSFUL\n"), 0644))

	out, err := execute(path)
	require.NoError(t, err)
	assert.Contains(t, out, "No known errors found in the log")
}
