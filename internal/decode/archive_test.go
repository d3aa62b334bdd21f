package decode

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classgrade/gradepipe/internal/types"
)

type archiveEntry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for _, entry := range entries {
		w, err := writer.Create(entry.name)
		require.NoError(t, err, "failed to create zip entry")
		_, err = w.Write(entry.data)
		require.NoError(t, err, "failed to write zip entry")
	}
	require.NoError(t, writer.Close(), "failed to close zip writer")

	return buf.Bytes()
}

func buildTarGz(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, entry := range entries {
		err := tw.WriteHeader(&tar.Header{
			Name:     entry.name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(entry.data)),
		})
		require.NoError(t, err, "failed to write tar header")
		_, err = tw.Write(entry.data)
		require.NoError(t, err, "failed to write tar entry")
	}
	require.NoError(t, tw.Close(), "failed to close tar writer")
	require.NoError(t, gz.Close(), "failed to close gzip writer")

	return buf.Bytes()
}

func testLimits() ExtractLimits {
	return ExtractLimits{
		MaxFiles:      16,
		MaxFileBytes:  1024,
		MaxTotalBytes: 4096,
	}
}

func paths(files []types.SubmissionFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}

	return out
}

func TestExtractArchive(t *testing.T) {
	entries := []archiveEntry{
		{name: "util.go", data: []byte("package main\n")},
		{name: "main.go", data: []byte("package main\n\nfunc main() {}\n")},
	}

	t.Run("Zip", func(t *testing.T) {
		files, err := extractArchive(buildZip(t, entries), testLimits())
		require.NoError(t, err, "failed to extract valid zip")

		assert.Equal(t, []string{"main.go", "util.go"}, paths(files), "entries should be sorted by path")
		assert.Equal(t, []byte("package main\n"), files[1].Data, "content should round trip")
	})

	t.Run("TarGz", func(t *testing.T) {
		files, err := extractArchive(buildTarGz(t, entries), testLimits())
		require.NoError(t, err, "failed to extract valid tar.gz")

		assert.Equal(t, []string{"main.go", "util.go"}, paths(files), "entries should be sorted by path")
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		_, err := extractArchive([]byte("plain text attachment"), testLimits())
		assert.ErrorIs(t, err, errUnknownFormat, "should reject non archive data")
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := extractArchive(buildZip(t, nil), testLimits())
		assert.ErrorIs(t, err, errEmptyArchive, "should reject archive with no files")
	})

	t.Run("DirectoriesSkipped", func(t *testing.T) {
		var buf bytes.Buffer
		writer := zip.NewWriter(&buf)
		_, err := writer.Create("src/")
		require.NoError(t, err, "failed to create dir entry")
		w, err := writer.Create("src/main.go")
		require.NoError(t, err, "failed to create file entry")
		_, err = w.Write([]byte("package main\n"))
		require.NoError(t, err, "failed to write file entry")
		require.NoError(t, writer.Close(), "failed to close zip writer")

		files, err := extractArchive(buf.Bytes(), testLimits())
		require.NoError(t, err, "failed to extract zip with directory entries")
		assert.Equal(t, []string{"src/main.go"}, paths(files), "directory entries should not become files")
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := extractArchive(buildZip(t, []archiveEntry{
			{name: "../evil.sh", data: []byte("#!/bin/sh\n")},
		}), testLimits())
		assert.ErrorContains(t, err, "escapes", "should reject paths that escape the root")
	})

	t.Run("AbsolutePath", func(t *testing.T) {
		_, err := extractArchive(buildTarGz(t, []archiveEntry{
			{name: "/etc/passwd", data: []byte("x")},
		}), testLimits())
		assert.ErrorContains(t, err, "absolute", "should reject absolute paths")
	})

	t.Run("DuplicateEntry", func(t *testing.T) {
		_, err := extractArchive(buildTarGz(t, []archiveEntry{
			{name: "main.go", data: []byte("a")},
			{name: "./main.go", data: []byte("b")},
		}), testLimits())
		assert.ErrorContains(t, err, "duplicate", "should reject colliding entry paths")
	})

	t.Run("TooManyFiles", func(t *testing.T) {
		limits := testLimits()
		limits.MaxFiles = 1

		_, err := extractArchive(buildZip(t, entries), limits)
		assert.ErrorContains(t, err, "limit of 1 files", "should enforce the file count limit")
	})

	t.Run("FileTooLarge", func(t *testing.T) {
		limits := testLimits()
		limits.MaxFileBytes = 4

		_, err := extractArchive(buildZip(t, entries), limits)
		assert.ErrorContains(t, err, "per file limit", "should enforce the per file limit")
	})

	t.Run("TotalTooLarge", func(t *testing.T) {
		limits := testLimits()
		limits.MaxTotalBytes = 16

		_, err := extractArchive(buildZip(t, entries), limits)
		assert.ErrorContains(t, err, "total limit", "should enforce the total size limit")
	})
}

func TestStripCommonRoot(t *testing.T) {
	t.Run("SharedRoot", func(t *testing.T) {
		files := stripCommonRoot([]types.SubmissionFile{
			{Path: "tp0/main.go"},
			{Path: "tp0/util/helper.go"},
		})
		assert.Equal(t, []string{"main.go", "util/helper.go"}, paths(files), "shared root should be stripped")
	})

	t.Run("NoSharedRoot", func(t *testing.T) {
		files := stripCommonRoot([]types.SubmissionFile{
			{Path: "tp0/main.go"},
			{Path: "readme.md"},
		})
		assert.Equal(t, []string{"tp0/main.go", "readme.md"}, paths(files), "mixed roots should be left alone")
	})

	t.Run("FlatFiles", func(t *testing.T) {
		files := stripCommonRoot([]types.SubmissionFile{
			{Path: "main.go"},
			{Path: "util.go"},
		})
		assert.Equal(t, []string{"main.go", "util.go"}, paths(files), "flat payloads should be left alone")
	})
}
