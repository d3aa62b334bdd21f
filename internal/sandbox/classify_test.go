package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classgrade/gradepipe/internal/types"
)

func TestClassify(t *testing.T) {
	t.Run("AllClear", func(t *testing.T) {
		status, reason := classify(stepOutcome{Step: "tests", ExitCode: 0})
		assert.Equal(t, types.VerdictStatusPassed, status, "a clean exit passes")
		assert.Empty(t, reason, "passing steps carry no reason")
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		status, reason := classify(stepOutcome{Step: "tests", ExitCode: 2})
		assert.Equal(t, types.VerdictStatusFailed, status, "a non zero exit fails the submission")
		assert.Empty(t, reason, "failed verdicts carry no reason")
	})

	t.Run("StudentCrash", func(t *testing.T) {
		status, _ := classify(stepOutcome{Step: "tests", ExitCode: -1, Signal: "SIGSEGV"})
		assert.Equal(t, types.VerdictStatusFailed, status, "a submission dying on its own signal is a failure, not a sandbox error")
	})

	t.Run("Timeout", func(t *testing.T) {
		status, reason := classify(stepOutcome{Step: "tests", ExitCode: -1, TimedOut: true})
		assert.Equal(t, types.VerdictStatusError, status, "a timeout is never a student failure")
		assert.Equal(t, types.ErrorReasonTimeout, reason, "timeouts carry the timeout reason")
	})

	t.Run("TimeoutBeatsExitCode", func(t *testing.T) {
		status, reason := classify(stepOutcome{Step: "tests", ExitCode: 1, TimedOut: true})
		assert.Equal(t, types.VerdictStatusError, status, "a killed run must not read as a failure")
		assert.Equal(t, types.ErrorReasonTimeout, reason, "timeouts win over exit codes")
	})

	t.Run("OOMKill", func(t *testing.T) {
		status, reason := classify(stepOutcome{Step: "build", ExitCode: -1, Signal: "SIGKILL", OOMKilled: true})
		assert.Equal(t, types.VerdictStatusError, status, "an oom kill is a sandbox error")
		assert.Equal(t, types.ErrorReasonResourceExceeded, reason, "oom kills exceed resources")
	})

	t.Run("CPULimit", func(t *testing.T) {
		status, reason := classify(stepOutcome{Step: "tests", ExitCode: -1, Signal: "SIGXCPU"})
		assert.Equal(t, types.VerdictStatusError, status, "an rlimit signal is a sandbox error")
		assert.Equal(t, types.ErrorReasonResourceExceeded, reason, "cpu rlimit exceeds resources")
	})

	t.Run("FileSizeLimit", func(t *testing.T) {
		status, reason := classify(stepOutcome{Step: "tests", ExitCode: -1, Signal: "SIGXFSZ"})
		assert.Equal(t, types.VerdictStatusError, status, "an rlimit signal is a sandbox error")
		assert.Equal(t, types.ErrorReasonResourceExceeded, reason, "file size rlimit exceeds resources")
	})

	t.Run("UnattributedKill", func(t *testing.T) {
		status, reason := classify(stepOutcome{Step: "tests", ExitCode: -1, Signal: "SIGKILL"})
		assert.Equal(t, types.VerdictStatusError, status, "an unexplained kill is a sandbox error")
		assert.Equal(t, types.ErrorReasonCrash, reason, "unexplained kills read as crashes")
	})
}
