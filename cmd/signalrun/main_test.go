package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-format", "json", "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"load", "bars", "labels", "features", "weights", "cv", "meta", "bet", "verify", "run", "sweep"} {
		assert.Contains(t, names, want)
	}
	for _, flag := range []string{"config", "force", "daily-target", "pt-sl", "targets", "metrics-out"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVerifyOnEmptyArtifacts(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "verify", "--artifacts", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "WARN Bars | artifact: not produced yet")
	assert.Contains(t, out, "Overall verification: WARN")
	assert.Contains(t, out, "STEP")
}

func TestStepNeedsUpstream(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "labels", "--artifacts", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run the bars step first")
}

func TestRunRejectsUnknownStep(t *testing.T) {
	_, err := execute(t, "run", "scan", "--artifacts", t.TempDir())
	assert.Error(t, err)
}

func TestInvalidConfigFlag(t *testing.T) {
	_, err := execute(t, "verify", "--artifacts", t.TempDir(), "--n-splits", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestMetricsTextfile(t *testing.T) {
	dir := t.TempDir()
	prom := filepath.Join(dir, "signalrun.prom")
	_, err := execute(t, "verify", "--artifacts", dir, "--metrics-out", prom)
	require.NoError(t, err)

	data, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), `signalrun_step_duration_seconds_count{result="success",step="verify"} 1`)
}
