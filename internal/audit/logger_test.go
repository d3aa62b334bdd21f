package audit

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classgrade/gradepipe/internal/types"
)

func ptr[T any](v T) *T {
	return &v
}

func captureStdout(fn func()) (string, error) {
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w

	fn()

	if err := w.Close(); err != nil {
		return "", err
	}
	os.Stdout = orig

	var buf bytes.Buffer
	if _, err = io.Copy(&buf, r); err != nil {
		return "", err
	}

	if err := r.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func TestLogMessageReceived(t *testing.T) {
	ctx := Context{
		StudentID:    ptr("s-1001"),
		AssignmentID: ptr("tp02"),
		CourseID:     "cs101",
	}
	got, err := captureStdout(func() {
		LogMessageReceived(ctx, "msg-1", "s-1001@example.edu", "tp02 handin")
	})
	require.NoError(t, err)

	expect := regexp.MustCompile(
		`{"event":{"message_id":"msg-1","from":"s-1001@example.edu","subject":"tp02 handin"},"student_id":"s-1001","assignment_id":"tp02","log_context":"audit","version":"\d\.\d\.\d","course_id":"cs101","disposition":"neutral","event_type":"message_received","timestamp":\d+}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogMessageRejected(t *testing.T) {
	// A rejection usually happens before the sender was identified.
	ctx := Context{CourseID: "cs101"}
	got, err := captureStdout(func() {
		LogMessageRejected(ctx, "msg-1", "decode", "unknown student")
	})
	require.NoError(t, err)

	expect := regexp.MustCompile(
		`{"event":{"message_id":"msg-1","stage":"decode","reason":"unknown student"},"student_id":null,"assignment_id":null,"log_context":"audit","version":"\d\.\d\.\d","course_id":"cs101","disposition":"bad","event_type":"message_rejected","timestamp":\d+}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogSubmissionDecoded(t *testing.T) {
	ctx := Context{
		StudentID:    ptr("s-1001"),
		AssignmentID: ptr("tp02"),
		CourseID:     "cs101",
	}
	got, err := captureStdout(func() {
		LogSubmissionDecoded(ctx, "4f3a2b1c", "msg-1", 2, 128, "go")
	})
	require.NoError(t, err)

	expect := regexp.MustCompile(
		`{"student_id":"s-1001","assignment_id":"tp02","log_context":"audit","version":"\d\.\d\.\d","course_id":"cs101","disposition":"neutral","event_type":"submission_decoded","timestamp":\d+,"event":{"fingerprint":"4f3a2b1c","message_id":"msg-1","file_count":2,"payload_bytes":128,"language":"go"}}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogSubmissionDuplicate(t *testing.T) {
	ctx := Context{
		StudentID:    ptr("s-1001"),
		AssignmentID: ptr("tp02"),
		CourseID:     "cs101",
	}
	got, err := captureStdout(func() {
		LogSubmissionDuplicate(ctx, "4f3a2b1c", "msg-2")
	})
	require.NoError(t, err)

	expect := regexp.MustCompile(
		`{"event":{"fingerprint":"4f3a2b1c","message_id":"msg-2"},"student_id":"s-1001","assignment_id":"tp02","log_context":"audit","version":"\d\.\d\.\d","course_id":"cs101","disposition":"neutral","event_type":"submission_duplicate","timestamp":\d+}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogFileArchived(t *testing.T) {
	ctx := Context{
		StudentID:    ptr("s-1001"),
		AssignmentID: ptr("tp02"),
		CourseID:     "cs101",
	}
	got, err := captureStdout(func() {
		LogFileArchived(ctx, "gradepipe-archive", "4f/3a/4f3a2b1c.zip", "4f3a2b1c", EntityMessage, "msg-1")
	})
	require.NoError(t, err)

	expect := regexp.MustCompile(
		`{"event":{"bucket_name":"gradepipe-archive","object_name":"4f/3a/4f3a2b1c.zip","sha256":"4f3a2b1c","entity":"message","entity_id":"msg-1"},"student_id":"s-1001","assignment_id":"tp02","log_context":"audit","version":"\d\.\d\.\d","course_id":"cs101","disposition":"neutral","event_type":"file_archived","timestamp":\d+}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogVerdictRecorded(t *testing.T) {
	ctx := Context{
		StudentID:    ptr("s-1001"),
		AssignmentID: ptr("tp02"),
		CourseID:     "cs101",
	}
	verdict := &types.Verdict{
		Status:     types.VerdictStatusFailed,
		FailedStep: "test",
	}
	got, err := captureStdout(func() {
		LogVerdictRecorded(ctx, "4f3a2b1c", verdict, 1)
	})
	require.NoError(t, err)

	expect := regexp.MustCompile(
		`{"student_id":"s-1001","assignment_id":"tp02","log_context":"audit","version":"\d\.\d\.\d","course_id":"cs101","disposition":"bad","event_type":"verdict_recorded","timestamp":\d+,"event":{"fingerprint":"4f3a2b1c","status":"failed","failed_step":"test","attempts":1}}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogResultDispatched(t *testing.T) {
	ctx := Context{
		StudentID:    ptr("s-1001"),
		AssignmentID: ptr("tp02"),
		CourseID:     "cs101",
	}
	got, err := captureStdout(func() {
		LogResultDispatched(
			ctx,
			"4f3a2b1c",
			"https://github.com/acme/s-1001.git",
			"graded/tp02",
			"deadbeef",
			"https://github.com/acme/s-1001/pull/1",
		)
	})
	require.NoError(t, err)

	expect := regexp.MustCompile(
		`{"student_id":"s-1001","assignment_id":"tp02","log_context":"audit","version":"\d\.\d\.\d","course_id":"cs101","disposition":"good","event_type":"result_dispatched","timestamp":\d+,"event":{"fingerprint":"4f3a2b1c","target":"https://github.com/acme/s-1001.git","branch":"graded/tp02","commit_sha":"deadbeef","pull_request_url":"https://github.com/acme/s-1001/pull/1"}}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogAttentionRaised(t *testing.T) {
	ctx := Context{
		StudentID:    ptr("s-1001"),
		AssignmentID: ptr("tp02"),
		CourseID:     "cs101",
	}
	got, err := captureStdout(func() {
		LogAttentionRaised(ctx, "sandbox", "sandbox broke twice", nil, "msg-1")
	})
	require.NoError(t, err)

	expect := regexp.MustCompile(
		`{"event":{"stage":"sandbox","detail":"sandbox broke twice","fingerprint":null,"message_id":"msg-1"},"student_id":"s-1001","assignment_id":"tp02","log_context":"audit","version":"\d\.\d\.\d","course_id":"cs101","disposition":"bad","event_type":"attention_raised","timestamp":\d+}`,
	)
	assert.Regexp(t, expect, got)
}

func TestLogAttentionResolved(t *testing.T) {
	ctx := Context{CourseID: "cs101"}
	got, err := captureStdout(func() {
		LogAttentionResolved(ctx, "a3f09c", "sandbox")
	})
	require.NoError(t, err)

	expect := regexp.MustCompile(
		`{"event":{"attention_id":"a3f09c","stage":"sandbox"},"student_id":null,"assignment_id":null,"log_context":"audit","version":"\d\.\d\.\d","course_id":"cs101","disposition":"neutral","event_type":"attention_resolved","timestamp":\d+}`,
	)
	assert.Regexp(t, expect, got)
}

func TestDispForVerdict(t *testing.T) {
	assert.Equal(t, DispositionGood, dispForVerdict(types.VerdictStatusPassed))
	assert.Equal(t, DispositionBad, dispForVerdict(types.VerdictStatusFailed))
	assert.Equal(t, DispositionBad, dispForVerdict(types.VerdictStatusError))
	assert.Equal(t, DispositionNeutral, dispForVerdict(types.VerdictStatus("unknown")))
}
