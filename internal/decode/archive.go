package decode

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/classgrade/gradepipe/internal/types"
)

// ExtractLimits bound what an archive may expand to. Archives violating any
// bound are rejected outright; a partially extracted payload is never used.
type ExtractLimits struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
}

var (
	errUnknownFormat = errors.New("unsupported archive format")
	errEmptyArchive  = errors.New("archive contains no files")
)

var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	gzipMagic = []byte{0x1f, 0x8b}
)

// extractArchive sniffs the container format by magic bytes and returns the
// contained regular files. Directories and special entries are skipped.
func extractArchive(data []byte, limits ExtractLimits) ([]types.SubmissionFile, error) {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return extractZip(data, limits)
	case bytes.HasPrefix(data, gzipMagic):
		return extractTarGz(data, limits)
	default:
		return nil, errUnknownFormat
	}
}

func extractZip(data []byte, limits ExtractLimits) ([]types.SubmissionFile, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}

	acc := newAccumulator(limits)
	for _, entry := range reader.File {
		if !entry.Mode().IsRegular() {
			continue
		}

		name, err := cleanEntryPath(entry.Name)
		if err != nil {
			return nil, err
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open zip entry %q: %w", name, err)
		}
		content, err := acc.read(name, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}

		if err := acc.add(name, content); err != nil {
			return nil, err
		}
	}

	return acc.finish()
}

func extractTarGz(data []byte, limits ExtractLimits) ([]types.SubmissionFile, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	acc := newAccumulator(limits)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar: %w", err)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name, err := cleanEntryPath(hdr.Name)
		if err != nil {
			return nil, err
		}

		content, err := acc.read(name, tr)
		if err != nil {
			return nil, err
		}

		if err := acc.add(name, content); err != nil {
			return nil, err
		}
	}

	return acc.finish()
}

// cleanEntryPath normalizes an archive member name and rejects anything that
// would escape the extraction root.
func cleanEntryPath(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")

	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute entry path %q", name)
	}

	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("empty entry path %q", name)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("entry path %q escapes the archive root", name)
	}

	return cleaned, nil
}

// stripCommonRoot removes the single shared top-level directory students end
// up with when they archive a folder instead of its contents. Stripping is
// one level deep and only happens when every entry lives under that one
// directory, so the canonical payload is the same however the archive was
// packed.
func stripCommonRoot(files []types.SubmissionFile) []types.SubmissionFile {
	if len(files) == 0 {
		return files
	}

	first, _, found := strings.Cut(files[0].Path, "/")
	if !found {
		return files
	}

	for _, f := range files {
		root, _, ok := strings.Cut(f.Path, "/")
		if !ok || root != first {
			return files
		}
	}

	stripped := make([]types.SubmissionFile, len(files))
	for i, f := range files {
		stripped[i] = types.SubmissionFile{
			Path: f.Path[len(first)+1:],
			Data: f.Data,
		}
	}

	return stripped
}

type accumulator struct {
	limits ExtractLimits
	seen   map[string]bool
	files  []types.SubmissionFile
	total  int64
}

func newAccumulator(limits ExtractLimits) *accumulator {
	return &accumulator{
		limits: limits,
		seen:   make(map[string]bool),
	}
}

// read pulls one entry's content, refusing to buffer past the per-file bound
// even when container headers lie about sizes.
func (a *accumulator) read(name string, r io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, a.limits.MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %q: %w", name, err)
	}
	if int64(len(content)) > a.limits.MaxFileBytes {
		return nil, fmt.Errorf("entry %q exceeds the per file limit of %d bytes", name, a.limits.MaxFileBytes)
	}

	return content, nil
}

func (a *accumulator) add(name string, content []byte) error {
	if a.seen[name] {
		return fmt.Errorf("duplicate entry %q", name)
	}
	a.seen[name] = true

	if len(a.files) >= a.limits.MaxFiles {
		return fmt.Errorf("archive exceeds the limit of %d files", a.limits.MaxFiles)
	}

	a.total += int64(len(content))
	if a.total > a.limits.MaxTotalBytes {
		return fmt.Errorf("archive exceeds the total limit of %d bytes", a.limits.MaxTotalBytes)
	}

	a.files = append(a.files, types.SubmissionFile{Path: name, Data: content})
	return nil
}

func (a *accumulator) finish() ([]types.SubmissionFile, error) {
	if len(a.files) == 0 {
		return nil, errEmptyArchive
	}

	sort.Slice(a.files, func(i, j int) bool {
		return a.files[i].Path < a.files[j].Path
	})

	return a.files, nil
}
