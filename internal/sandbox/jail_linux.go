//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"

	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/types"
)

// JailRunner executes harness steps inside fresh namespaces with cgroup v2
// bounds, delegating in-process setup to the jailinit helper. The runner is
// expected to hold CAP_SYS_ADMIN; jailinit drops to the sandbox identity
// before exec.
type JailRunner struct {
	cfg Config
}

var _ Runner = (*JailRunner)(nil)

func NewJailRunner(cfg Config) (*JailRunner, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("base dir is required")
	}
	if cfg.InitPath == "" {
		return nil, fmt.Errorf("init path is required")
	}
	if err := ensureCgroupRoot(cfg.CgroupRoot); err != nil {
		return nil, err
	}
	return &JailRunner{cfg: cfg}, nil
}

func (r *JailRunner) Run(ctx context.Context, req *ExecutionRequest) (*types.Verdict, error) {
	ctx, span := tracer.Start(ctx, "JailRunner.Run")
	defer span.End()

	if err := validateRequest(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid execution request")
		return nil, gradeerrors.SandboxErrorWrap(types.ErrorReasonCrash, err)
	}

	span.SetAttributes(
		attribute.String("submission.fingerprint", req.Submission.Fingerprint),
		attribute.String("assignment.id", req.Submission.AssignmentID),
		attribute.Int("steps", len(req.Steps)),
	)

	ws, err := Stage(r.cfg.BaseDir, req.HarnessDir, req.Submission)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stage workspace")
		return nil, gradeerrors.SandboxErrorWrap(types.ErrorReasonCrash, err)
	}
	defer ws.Close()

	if r.cfg.UID != 0 {
		if err := ws.Grant(int(r.cfg.UID), int(r.cfg.GID)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to hand workspace to sandbox identity")
			return nil, gradeerrors.SandboxErrorWrap(types.ErrorReasonCrash, err)
		}
	}

	started := time.Now()
	deadline := started.Add(time.Duration(req.Limits.WallSeconds) * time.Second)

	verdict := &types.Verdict{
		Status:    types.VerdictStatusPassed,
		StartedAt: started,
	}

	for _, step := range req.Steps {
		span.AddEvent("running step", trace.WithAttributes(
			attribute.String("step", step.Name),
		))

		outcome, stepUsage, err := r.runStep(ctx, ws, step, req.Limits, deadline)

		verdict.Usage.CPUTimeMillis += stepUsage.CPUTimeMillis
		if stepUsage.MemoryPeakKB > verdict.Usage.MemoryPeakKB {
			verdict.Usage.MemoryPeakKB = stepUsage.MemoryPeakKB
		}
		verdict.Usage.OOMKilled = verdict.Usage.OOMKilled || stepUsage.OOMKilled

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sandbox failed to run step")
			return nil, gradeerrors.SandboxErrorWrap(types.ErrorReasonCrash, err)
		}

		status, reason := classify(outcome)
		if status == types.VerdictStatusPassed {
			continue
		}

		verdict.Status = status
		verdict.Reason = reason
		verdict.FailedStep = step.Name
		verdict.Output = combinedTail(
			ws.StepOut(step.Name),
			ws.StepErr(step.Name),
			maxOutput(req.Limits),
		)
		break
	}

	verdict.Usage.WallTimeMillis = time.Since(started).Milliseconds()
	verdict.Duration = time.Since(started)

	span.SetAttributes(
		attribute.String("verdict.status", verdict.Status.String()),
		attribute.String("verdict.reason", verdict.Reason.String()),
	)
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "run decided a verdict")
	return verdict, nil
}

func (r *JailRunner) runStep(
	ctx context.Context,
	ws *Workspace,
	step Step,
	limits Limits,
	deadline time.Time,
) (stepOutcome, types.ResourceUsage, error) {
	ctx, span := tracer.Start(ctx, "JailRunner.runStep", trace.WithAttributes(
		attribute.String("step", step.Name),
	))
	defer span.End()

	var usage types.ResourceUsage

	remaining := time.Until(deadline)
	if remaining <= 0 {
		// an earlier step ate the whole wall budget
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "wall budget exhausted before step")
		return stepOutcome{Step: step.Name, TimedOut: true}, usage, nil
	}

	cgroupPath, cgroupCleanup, err := createStepCgroup(
		r.cfg.CgroupRoot,
		filepath.Base(ws.Root),
		step.Name,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cgroup")
		return stepOutcome{}, usage, err
	}
	defer cgroupCleanup()

	if err := applyCgroupLimits(cgroupPath, limits); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to apply cgroup limits")
		return stepOutcome{}, usage, fmt.Errorf("apply cgroup limits: %w", err)
	}

	initSpec := InitSpec{
		WorkDir:    ws.Work,
		Command:    step.Command,
		Env:        stepEnv(ws),
		StdoutPath: ws.StepOut(step.Name),
		StderrPath: ws.StepErr(step.Name),
		UID:        r.cfg.UID,
		GID:        r.cfg.GID,
		Limits: InitLimits{
			CPUSeconds:      limits.CPUSeconds,
			MaxFileBytes:    limits.MaxFileBytes,
			MaxProcessBytes: limits.MaxProcessBytes,
			MaxPids:         limits.MaxPids,
		},
	}

	stdin, err := specToPipe(initSpec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode init spec")
		return stepOutcome{}, usage, fmt.Errorf("encode init spec: %w", err)
	}
	defer stdin.Close()

	cmd := exec.CommandContext(ctx, r.cfg.InitPath)
	cmd.SysProcAttr = jailSysProcAttr(r.cfg.IsolateNetwork)
	cmd.Stdin = stdin

	// jailinit complains here only until it redirects IO; after the exec the
	// step owns the capture files
	var helperErr bytes.Buffer
	cmd.Stderr = &helperErr

	if err := cmd.Start(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start jailinit")
		return stepOutcome{}, usage, fmt.Errorf("start jailinit: %w", err)
	}
	pid := cmd.Process.Pid

	if err := addProcessToCgroup(cgroupPath, pid); err != nil {
		// a step outside its cgroup is unbounded and must not run
		killGroup(pid, cgroupPath)
		_ = cmd.Wait()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to join cgroup")
		return stepOutcome{}, usage, fmt.Errorf("join cgroup: %w", err)
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			killGroup(pid, cgroupPath)
		case <-time.After(remaining):
			timedOut.Store(true)
			killGroup(pid, cgroupPath)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	usage.CPUTimeMillis = cpuTimeMillis(cmd.ProcessState)
	usage.MemoryPeakKB = memoryPeakKB(cgroupPath, cmd.ProcessState)
	usage.OOMKilled = wasOOMKilled(cgroupPath)

	outcome := stepOutcome{
		Step:      step.Name,
		ExitCode:  exitCode(cmd.ProcessState, waitErr),
		Signal:    exitSignal(cmd.ProcessState),
		OOMKilled: usage.OOMKilled,
		TimedOut:  timedOut.Load(),
	}

	// jailinit exits 1 with a complaint on our stderr when it dies before
	// the exec; the step itself can never reach this buffer
	if outcome.ExitCode == 1 && helperErr.Len() > 0 {
		err := fmt.Errorf("jailinit: %s", strings.TrimSpace(helperErr.String()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "jailinit failed before exec")
		return outcome, usage, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "step finished")
	return outcome, usage, nil
}

func validateRequest(req *ExecutionRequest) error {
	if req == nil || req.Submission == nil {
		return fmt.Errorf("submission is required")
	}
	if len(req.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for _, step := range req.Steps {
		if step.Name == "" || len(step.Command) == 0 {
			return fmt.Errorf("step name and command are required")
		}
	}
	if req.Limits.WallSeconds <= 0 {
		return fmt.Errorf("wall clock limit is required")
	}
	return nil
}

// stepEnv is the minimal environment steps run with. Anything language
// specific is the harness's business.
func stepEnv(ws *Workspace) []string {
	return []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=" + ws.Work,
		"TMPDIR=" + ws.Work,
		"LANG=C.UTF-8",
	}
}

func maxOutput(limits Limits) int64 {
	if limits.MaxOutputBytes > 0 {
		return limits.MaxOutputBytes
	}
	return 64 * 1024
}

func specToPipe(initSpec InitSpec) (io.ReadCloser, error) {
	reader, writer := io.Pipe()
	go func() {
		enc := json.NewEncoder(writer)
		err := enc.Encode(initSpec)
		_ = writer.CloseWithError(err)
	}()
	return reader, nil
}

// jailSysProcAttr requests the fresh namespaces for one step.
func jailSysProcAttr(isolateNetwork bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	cloneFlags := uintptr(
		syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC,
	)
	if isolateNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	attr.Cloneflags = cloneFlags

	return attr
}

// killGroup tears one step down: the process group first, then the cgroup for
// anything that escaped it.
func killGroup(pid int, cgroupPath string) {
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	_ = killCgroup(cgroupPath)
}

func exitCode(state *os.ProcessState, err error) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func exitSignal(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(ws.Signal())
}
