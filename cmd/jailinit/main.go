//go:build linux

// jailinit is the first process of every sandbox step. The runner starts it
// inside fresh namespaces with an InitSpec on stdin; it applies the
// per-process bounds, redirects IO to the capture files, drops to the
// sandbox identity and execs the step command. Anything it prints to stderr
// before the redirect is a sandbox failure, never student output.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/classgrade/gradepipe/internal/sandbox"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	initSpec, err := decodeSpec(os.Stdin)
	if err != nil {
		return err
	}
	if err := validateSpec(initSpec); err != nil {
		return err
	}

	// keep mount changes inside the fresh mount namespace
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("make mount private: %w", err)
	}

	if err := os.Chdir(initSpec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}

	if err := applyRlimits(initSpec.Limits); err != nil {
		return err
	}

	env := buildEnv(initSpec.Env)
	os.Clearenv()
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if err := os.Setenv(parts[0], parts[1]); err != nil {
			return fmt.Errorf("set env: %w", err)
		}
	}

	// resolve before the redirect so a bad harness command surfaces as a
	// sandbox complaint instead of vanishing into the step log
	cmdPath, err := exec.LookPath(initSpec.Command[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}

	if err := redirectIO(initSpec); err != nil {
		return err
	}

	if err := dropPrivileges(initSpec.UID, initSpec.GID); err != nil {
		return err
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}

	return unix.Exec(cmdPath, initSpec.Command, env)
}

func decodeSpec(r io.Reader) (sandbox.InitSpec, error) {
	dec := json.NewDecoder(r)
	var initSpec sandbox.InitSpec
	if err := dec.Decode(&initSpec); err != nil {
		return sandbox.InitSpec{}, fmt.Errorf("decode init spec: %w", err)
	}
	return initSpec, nil
}

func validateSpec(initSpec sandbox.InitSpec) error {
	if len(initSpec.Command) == 0 {
		return fmt.Errorf("command is required")
	}
	if initSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if initSpec.StdoutPath == "" || initSpec.StderrPath == "" {
		return fmt.Errorf("capture paths are required")
	}
	return nil
}

// applyRlimits sets the per-process bounds while still privileged. NPROC is
// charged to the target uid, so it must land before the drop.
func applyRlimits(limits sandbox.InitLimits) error {
	if limits.CPUSeconds > 0 {
		seconds := uint64(limits.CPUSeconds)
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: seconds, Max: seconds}); err != nil {
			return fmt.Errorf("set rlimit cpu: %w", err)
		}
	}
	if limits.MaxFileBytes > 0 {
		bytes := uint64(limits.MaxFileBytes)
		if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit fsize: %w", err)
		}
	}
	if limits.MaxProcessBytes > 0 {
		bytes := uint64(limits.MaxProcessBytes)
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit as: %w", err)
		}
	}
	if limits.MaxPids > 0 {
		val := uint64(limits.MaxPids)
		if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: val, Max: val}); err != nil {
			return fmt.Errorf("set rlimit nproc: %w", err)
		}
	}
	return nil
}

func redirectIO(initSpec sandbox.InitSpec) error {
	stdinFile, err := os.Open("/dev/null")
	if err != nil {
		return fmt.Errorf("open stdin: %w", err)
	}
	stdoutFile, err := os.OpenFile(initSpec.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open stdout: %w", err)
	}
	stderrFile, err := os.OpenFile(initSpec.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open stderr: %w", err)
	}
	if err := unix.Dup2(int(stdinFile.Fd()), int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("dup stdin: %w", err)
	}
	if err := unix.Dup2(int(stdoutFile.Fd()), int(os.Stdout.Fd())); err != nil {
		return fmt.Errorf("dup stdout: %w", err)
	}
	if err := unix.Dup2(int(stderrFile.Fd()), int(os.Stderr.Fd())); err != nil {
		return fmt.Errorf("dup stderr: %w", err)
	}
	_ = stdinFile.Close()
	_ = stdoutFile.Close()
	_ = stderrFile.Close()
	return nil
}

// dropPrivileges moves to the unprivileged sandbox identity. A zero uid keeps
// the caller's identity for unprivileged development runs.
func dropPrivileges(uid uint32, gid uint32) error {
	if uid == 0 {
		return nil
	}
	if err := unix.Setgroups([]int{int(gid)}); err != nil {
		return fmt.Errorf("set groups: %w", err)
	}
	if err := unix.Setgid(int(gid)); err != nil {
		return fmt.Errorf("set gid: %w", err)
	}
	if err := unix.Setuid(int(uid)); err != nil {
		return fmt.Errorf("set uid: %w", err)
	}
	return nil
}

func buildEnv(env []string) []string {
	if len(env) > 0 {
		return env
	}
	return []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
}
