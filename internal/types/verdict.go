package types

import "time"

type VerdictStatus string

const (
	VerdictStatusPassed VerdictStatus = "passed" // every harness step exited 0
	VerdictStatusFailed VerdictStatus = "failed" // a harness step exited non-zero
	VerdictStatusError  VerdictStatus = "error"  // the sandbox failed, not the submission
)

func (s VerdictStatus) String() string {
	return string(s)
}

const (
	ExitNormal        int = 0
	ExitErrored       int = 1
	ExitVerdictFailed int = 2
	ExitVerdictError  int = 3
)

// ErrorReason qualifies an error verdict. A timeout is always an error, never
// a student failure.
type ErrorReason string

const (
	ErrorReasonTimeout          ErrorReason = "timeout"           // wall clock budget exhausted
	ErrorReasonResourceExceeded ErrorReason = "resource_exceeded" // memory, cpu time, file size or process limit hit
	ErrorReasonCrash            ErrorReason = "crash"             // sandbox failed to start or died abnormally
)

func (r ErrorReason) String() string {
	return string(r)
}

// ResourceUsage is what the sandbox measured across the whole run.
type ResourceUsage struct {
	CPUTimeMillis  int64 `json:"cpu_time_millis"`
	WallTimeMillis int64 `json:"wall_time_millis"`
	MemoryPeakKB   int64 `json:"memory_peak_kb"`
	OOMKilled      bool  `json:"oom_killed"`
}

// Verdict is the single outcome of one sandbox run.
type Verdict struct {
	Status VerdictStatus `json:"status"                validate:"required"`
	// Reason is set only when Status is error.
	Reason ErrorReason `json:"reason,omitempty"`
	// FailedStep names the harness step that decided a failed verdict.
	FailedStep string `json:"failed_step,omitempty"`
	// Output is a bounded tail of the decisive step's combined output.
	Output    string        `json:"output,omitempty"`
	Usage     ResourceUsage `json:"usage"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
