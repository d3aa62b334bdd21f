package sandbox

import "github.com/classgrade/gradepipe/internal/types"

// rlimit signals that mean the student hit a per-process bound
const (
	sigXCPU = "SIGXCPU"
	sigXFSZ = "SIGXFSZ"
	sigKill = "SIGKILL"
)

// stepOutcome is the abstract result of one jailed step, already detached
// from syscall types so classification stays portable.
type stepOutcome struct {
	Step      string
	ExitCode  int
	Signal    string
	OOMKilled bool
	TimedOut  bool
}

// classify maps a step outcome onto the verdict surface.
//
// Timeouts and resource kills are never student failures. A step that dies on
// its own signal (SIGSEGV and friends) is: the submission crashed, the
// sandbox did not. An unattributed SIGKILL means something outside the run
// tore it down.
func classify(o stepOutcome) (types.VerdictStatus, types.ErrorReason) {
	switch {
	case o.TimedOut:
		return types.VerdictStatusError, types.ErrorReasonTimeout
	case o.OOMKilled:
		return types.VerdictStatusError, types.ErrorReasonResourceExceeded
	case o.Signal == sigXCPU || o.Signal == sigXFSZ:
		return types.VerdictStatusError, types.ErrorReasonResourceExceeded
	case o.Signal == sigKill:
		return types.VerdictStatusError, types.ErrorReasonCrash
	case o.Signal != "":
		return types.VerdictStatusFailed, ""
	case o.ExitCode != 0:
		return types.VerdictStatusFailed, ""
	default:
		return types.VerdictStatusPassed, ""
	}
}
