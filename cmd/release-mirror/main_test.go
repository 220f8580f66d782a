package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)
	logger.Debug("hello", "asset", "a.zip")
	assert.Contains(t, buf.String(), `"asset":"a.zip"`)

	buf.Reset()
	logger, err = newLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	logger, err := newLogger(io.Discard, "info", "text")
	require.NoError(t, err)

	ok := &mirrortypes.RunResult{
		Release: &mirrortypes.Release{TagName: "v1"},
		Results: []mirrortypes.DestinationResult{{Destination: "a", State: mirrortypes.StateDone}},
	}
	assert.Equal(t, exitOK, report(logger, ok))

	partial := &mirrortypes.RunResult{
		Release: &mirrortypes.Release{TagName: "v1"},
		Results: []mirrortypes.DestinationResult{
			{Destination: "a", State: mirrortypes.StateDone},
			{Destination: "b", State: mirrortypes.StateFailed, FailedIn: mirrortypes.StateCreatingRelease, Err: assert.AnError},
		},
	}
	assert.Equal(t, exitDestination, report(logger, partial))
}

func TestRun_FatalErrors(t *testing.T) {
	var stderr bytes.Buffer

	assert.Equal(t, exitFatal, run(context.Background(), []string{"-unknown"}, io.Discard, &stderr))
	assert.Equal(t, exitFatal, run(context.Background(), []string{"-log-format", "xml"}, io.Discard, &stderr))
	assert.Equal(t, exitFatal, run(context.Background(),
		[]string{"-config", filepath.Join(t.TempDir(), "missing.cue")}, io.Discard, &stderr))

	bad := filepath.Join(t.TempDir(), "mirror.cue")
	require.NoError(t, os.WriteFile(bad, []byte(`version: "0.1.0"`), 0o600))
	stderr.Reset()
	assert.Equal(t, exitFatal, run(context.Background(), []string{"-config", bad}, io.Discard, &stderr))
	assert.Contains(t, stderr.String(), "failed to load configuration")
}

func TestRun_LocalSourceUnreachableDestination(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "release.json"), []byte(`{"tag_name":"v1"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.zip"), []byte("zip"), 0o600))

	cfgPath := filepath.Join(t.TempDir(), "mirror.cue")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
version: "0.1.0"
source: {kind: "local", dir: "`+filepath.ToSlash(dir)+`"}
destinations: [{
	kind: "gitee", owner: "acme", repo: "tool", token: "t",
	target_commitish: "main", base_url: "http://127.0.0.1:1"
}]
`), 0o600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath}, &stdout, &stderr)
	assert.Equal(t, exitDestination, code)
	assert.Contains(t, stderr.String(), "destination failed")
	assert.Contains(t, stderr.String(), "failed_in=creating_release")
}
