package sandbox

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	cp "github.com/otiai10/copy"

	"github.com/classgrade/gradepipe/internal/types"
)

// Workspace is one run's scratch tree: the jailed working directory plus a
// log directory the graded process cannot reach by path. Step processes keep
// writing to the log files through inherited descriptors only.
type Workspace struct {
	Root string
	Work string
	Logs string
}

// Stage builds a run workspace under baseDir: the harness skeleton is copied
// in first, then the student payload on top. The payload wins file by file.
func Stage(baseDir string, harnessDir string, sub *types.Submission) (*Workspace, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	root, err := os.MkdirTemp(baseDir, sub.ShortFingerprint()+"-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	ws := &Workspace{
		Root: root,
		Work: filepath.Join(root, "work"),
		Logs: filepath.Join(root, "logs"),
	}

	if err := os.Mkdir(ws.Work, 0755); err != nil {
		ws.Close()
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	if err := os.Mkdir(ws.Logs, 0700); err != nil {
		ws.Close()
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	if harnessDir != "" {
		if err := cp.Copy(harnessDir, ws.Work, cp.Options{}); err != nil {
			ws.Close()
			return nil, fmt.Errorf("copy harness: %w", err)
		}
	}

	for _, file := range sub.Files {
		if err := ws.overlay(file); err != nil {
			ws.Close()
			return nil, err
		}
	}

	return ws, nil
}

// overlay writes one payload file into the working tree. The decoder already
// rejects traversal paths; the guard here keeps the workspace safe on its own.
func (w *Workspace) overlay(file types.SubmissionFile) error {
	dest := filepath.Join(w.Work, filepath.FromSlash(file.Path))
	if !strings.HasPrefix(dest, w.Work+string(os.PathSeparator)) {
		return fmt.Errorf("payload path escapes workspace: %s", file.Path)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create payload dir: %w", err)
	}
	if err := os.WriteFile(dest, file.Data, 0644); err != nil {
		return fmt.Errorf("write payload file: %w", err)
	}

	return nil
}

// Grant hands the working tree to the sandbox identity so build steps can
// write into it.
func (w *Workspace) Grant(uid int, gid int) error {
	return filepath.WalkDir(w.Work, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(path, uid, gid)
	})
}

// StepOut is the stdout capture file for a step.
func (w *Workspace) StepOut(step string) string {
	return filepath.Join(w.Logs, step+".out")
}

// StepErr is the stderr capture file for a step.
func (w *Workspace) StepErr(step string) string {
	return filepath.Join(w.Logs, step+".err")
}

// Close tears the whole workspace down. Aborted and killed runs still remove
// everything.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.Root)
}

// tailFile reads at most max bytes from the end of a capture file. Missing
// files read as empty.
func tailFile(path string, max int64) string {
	if max <= 0 {
		return ""
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}

	if info.Size() > max {
		if _, err := f.Seek(-max, io.SeekEnd); err != nil {
			return ""
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return ""
	}

	return string(data)
}

// combinedTail bounds the decisive step's captured output for the verdict:
// the stderr tail first, then stdout, each under half the budget.
func combinedTail(outPath string, errPath string, max int64) string {
	if max <= 0 {
		return ""
	}

	half := max / 2
	stderrTail := tailFile(errPath, half)
	stdoutTail := tailFile(outPath, max-int64(len(stderrTail)))

	switch {
	case stderrTail == "":
		return stdoutTail
	case stdoutTail == "":
		return stderrTail
	default:
		return stderrTail + "\n" + stdoutTail
	}
}
