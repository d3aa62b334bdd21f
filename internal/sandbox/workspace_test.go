package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classgrade/gradepipe/internal/types"
)

func testSubmission(files []types.SubmissionFile) *types.Submission {
	return &types.Submission{
		StudentID:    "s-1001",
		AssignmentID: "tp0",
		Fingerprint:  "f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0",
		Files:        files,
	}
}

func writeHarness(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755), "failed to make harness dir")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644), "failed to write harness file")
	}
	return dir
}

func TestStage(t *testing.T) {
	t.Run("HarnessAndPayload", func(t *testing.T) {
		harness := writeHarness(t, map[string]string{
			"Makefile":          "check:\n\tgo test ./...\n",
			"tests/api_test.go": "package tests\n",
			"go.mod":            "module harness\n",
		})

		sub := testSubmission([]types.SubmissionFile{
			{Path: "main.go", Data: []byte("package main\n")},
			{Path: "go.mod", Data: []byte("module student\n")},
		})

		ws, err := Stage(t.TempDir(), harness, sub)
		require.NoError(t, err, "failed to stage workspace")
		defer ws.Close()

		data, err := os.ReadFile(filepath.Join(ws.Work, "Makefile"))
		require.NoError(t, err, "failed to read staged harness file")
		assert.Contains(t, string(data), "go test", "harness skeleton should be staged")

		data, err = os.ReadFile(filepath.Join(ws.Work, "go.mod"))
		require.NoError(t, err, "failed to read overlapping file")
		assert.Equal(t, "module student\n", string(data), "payload should win file by file")

		_, err = os.Stat(filepath.Join(ws.Work, "tests", "api_test.go"))
		assert.NoError(t, err, "nested harness files should be staged")
	})

	t.Run("NoHarness", func(t *testing.T) {
		sub := testSubmission([]types.SubmissionFile{
			{Path: "solution.py", Data: []byte("print('ok')\n")},
		})

		ws, err := Stage(t.TempDir(), "", sub)
		require.NoError(t, err, "failed to stage workspace")
		defer ws.Close()

		entries, err := os.ReadDir(ws.Work)
		require.NoError(t, err, "failed to list work dir")
		assert.Len(t, entries, 1, "only the payload should be staged")
	})

	t.Run("NestedPayload", func(t *testing.T) {
		sub := testSubmission([]types.SubmissionFile{
			{Path: "pkg/util/util.go", Data: []byte("package util\n")},
		})

		ws, err := Stage(t.TempDir(), "", sub)
		require.NoError(t, err, "failed to stage workspace")
		defer ws.Close()

		_, err = os.Stat(filepath.Join(ws.Work, "pkg", "util", "util.go"))
		assert.NoError(t, err, "payload directories should be created")
	})

	t.Run("EscapeRejected", func(t *testing.T) {
		sub := testSubmission([]types.SubmissionFile{
			{Path: "../evil.sh", Data: []byte("#!/bin/sh\n")},
		})

		_, err := Stage(t.TempDir(), "", sub)
		assert.Error(t, err, "payload paths must stay inside the workspace")
	})

	t.Run("CloseRemoves", func(t *testing.T) {
		sub := testSubmission([]types.SubmissionFile{
			{Path: "main.go", Data: []byte("package main\n")},
		})

		ws, err := Stage(t.TempDir(), "", sub)
		require.NoError(t, err, "failed to stage workspace")

		require.NoError(t, ws.Close(), "failed to close workspace")

		_, err = os.Stat(ws.Root)
		assert.True(t, os.IsNotExist(err), "close should remove the whole tree")
	})
}

func TestStepCaptures(t *testing.T) {
	sub := testSubmission([]types.SubmissionFile{
		{Path: "main.go", Data: []byte("package main\n")},
	})

	ws, err := Stage(t.TempDir(), "", sub)
	require.NoError(t, err, "failed to stage workspace")
	defer ws.Close()

	assert.Equal(t, filepath.Join(ws.Logs, "build.out"), ws.StepOut("build"), "stdout capture lives in logs")
	assert.Equal(t, filepath.Join(ws.Logs, "build.err"), ws.StepErr("build"), "stderr capture lives in logs")
}

func TestTailFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "step.out")
	content := strings.Repeat("x", 90) + "tail bytes"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644), "failed to write capture")

	t.Run("Bounded", func(t *testing.T) {
		assert.Equal(t, "tail bytes", tailFile(path, 10), "should read the last bytes only")
	})

	t.Run("WholeFile", func(t *testing.T) {
		assert.Equal(t, content, tailFile(path, 4096), "small files should read whole")
	})

	t.Run("Missing", func(t *testing.T) {
		assert.Empty(t, tailFile(filepath.Join(dir, "absent"), 10), "missing captures read as empty")
	})

	t.Run("ZeroBudget", func(t *testing.T) {
		assert.Empty(t, tailFile(path, 0), "a zero budget reads nothing")
	})
}

func TestCombinedTail(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "step.out")
	errPath := filepath.Join(dir, "step.err")
	require.NoError(t, os.WriteFile(outPath, []byte("stdout line"), 0644), "failed to write stdout")
	require.NoError(t, os.WriteFile(errPath, []byte("stderr line"), 0644), "failed to write stderr")

	t.Run("Both", func(t *testing.T) {
		combined := combinedTail(outPath, errPath, 4096)
		assert.Equal(t, "stderr line\nstdout line", combined, "stderr should lead")
	})

	t.Run("OnlyStdout", func(t *testing.T) {
		combined := combinedTail(outPath, filepath.Join(dir, "absent"), 4096)
		assert.Equal(t, "stdout line", combined, "stdout alone should pass through")
	})

	t.Run("OnlyStderr", func(t *testing.T) {
		combined := combinedTail(filepath.Join(dir, "absent"), errPath, 4096)
		assert.Equal(t, "stderr line", combined, "stderr alone should pass through")
	})
}
