package pipeline_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/classgrade/gradepipe/internal/config"
	"github.com/classgrade/gradepipe/internal/decode"
	"github.com/classgrade/gradepipe/internal/dispatch"
	mockdispatch "github.com/classgrade/gradepipe/internal/dispatch/mock"
	mockfetch "github.com/classgrade/gradepipe/internal/fetch/mock"
	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/intake"
	mockintake "github.com/classgrade/gradepipe/internal/intake/mock"
	"github.com/classgrade/gradepipe/internal/models"
	"github.com/classgrade/gradepipe/internal/pipeline"
	mockrecord "github.com/classgrade/gradepipe/internal/record/mock"
	"github.com/classgrade/gradepipe/internal/sandbox"
	mocksandbox "github.com/classgrade/gradepipe/internal/sandbox/mock"
	"github.com/classgrade/gradepipe/internal/types"
	mockupload "github.com/classgrade/gradepipe/internal/upload/mock"
)

const studentRepo = "https://git.example.edu/cs101/s-1001.git"

func pipelineConfig(dispatchEnabled bool) *config.Config {
	return &config.Config{
		Course: &config.CourseConfig{
			ID: "cs101",
			Students: []config.StudentConfig{
				{ID: "s-1001", Name: "Sam Doe", Email: "s-1001@example.edu", RepoURL: studentRepo},
				{ID: "s-1002", Name: "Kim Roe", Email: "s-1002@example.edu"},
			},
			Assignments: []config.AssignmentConfig{
				{
					ID:         "tp02",
					HarnessDir: "/srv/harness/tp02",
					Aliases:    []string{"tp-02"},
					Steps: []config.StepConfig{
						{Name: "build", Command: []string{"make", "build"}},
						{Name: "test", Command: []string{"make", "test"}},
					},
				},
			},
		},
		Intake: &config.IntakeConfig{
			MaxArchiveBytes: 32 << 20,
			MaxFiles:        64,
			MaxFileBytes:    1 << 20,
		},
		Sandbox: &config.SandboxConfig{
			Limits: config.LimitsConfig{
				CPUSeconds:      5,
				WallSeconds:     30,
				MemoryBytes:     64 << 20,
				MaxPids:         16,
				MaxFileBytes:    1 << 20,
				MaxOutputBytes:  16 << 10,
				MaxProcessBytes: 128 << 20,
			},
		},
		Dispatch: &config.DispatchConfig{
			Enabled:      &dispatchEnabled,
			BranchPrefix: "graded/",
		},
	}
}

type fixture struct {
	store      *mockrecord.MockStorer
	runner     *mocksandbox.MockRunner
	dispatcher *mockdispatch.MockDispatcher
	archiver   *mockupload.MockUploader
	fetcher    *mockfetch.MockFetcher
	coord      *pipeline.Coordinator
}

func newFixture(t *testing.T, dispatchEnabled bool) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	f := &fixture{
		store:      mockrecord.NewMockStorer(ctrl),
		runner:     mocksandbox.NewMockRunner(ctrl),
		dispatcher: mockdispatch.NewMockDispatcher(ctrl),
		archiver:   mockupload.NewMockUploader(ctrl),
		fetcher:    mockfetch.NewMockFetcher(ctrl),
	}

	decoder := decode.NewDecoder(
		[]decode.Student{
			{ID: "s-1001", Name: "Sam Doe", Email: "s-1001@example.edu"},
			{ID: "s-1002", Name: "Kim Roe", Email: "s-1002@example.edu"},
		},
		[]decode.Assignment{{ID: "tp02", Aliases: []string{"tp-02"}}},
		decode.ExtractLimits{MaxFiles: 64, MaxFileBytes: 1 << 20, MaxTotalBytes: 32 << 20},
	)

	f.coord = pipeline.NewCoordinatorBackoff(
		pipelineConfig(dispatchEnabled),
		decoder,
		f.store,
		f.runner,
		f.dispatcher,
		f.archiver,
		f.fetcher,
		func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
		},
	)

	return f
}

func submissionZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := writer.Create(name)
		require.NoError(t, err, "failed to create zip entry")
		_, err = w.Write([]byte(data))
		require.NoError(t, err, "failed to write zip entry")
	}
	require.NoError(t, writer.Close(), "failed to close zip writer")

	return buf.Bytes()
}

func envelopeJSON(t *testing.T, messageID string, from string, archive []byte) []byte {
	t.Helper()

	env := intake.Envelope{
		MessageID:  messageID,
		From:       from,
		Subject:    "tp02 hand-in",
		ReceivedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		ArchiveB64: base64.StdEncoding.EncodeToString(archive),
	}

	data, err := json.Marshal(&env)
	require.NoError(t, err, "failed to marshal envelope")

	return data
}

func message(t *testing.T, messageID string) []byte {
	t.Helper()

	archive := submissionZip(t, map[string]string{
		"main.go": "package main\n",
		"go.mod":  "module tp02\n",
	})

	return envelopeJSON(t, messageID, "Sam Doe <s-1001@example.edu>", archive)
}

// expectArchive wires the content-addressed payload upload.
func expectArchive(f *fixture, alreadyStored bool) {
	f.archiver.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(alreadyStored, nil)
	if !alreadyStored {
		f.archiver.EXPECT().
			Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil)
	}
	f.archiver.EXPECT().StoreIdentifier(gomock.Any()).Return("archives", nil)
}

func passedVerdict() *types.Verdict {
	return &types.Verdict{
		Status:    types.VerdictStatusPassed,
		Output:    "ok\n",
		StartedAt: time.Now(),
		Duration:  2 * time.Second,
	}
}

func TestHandlePassedSubmissionDelivers(t *testing.T) {
	f := newFixture(t, true)

	expectArchive(f, false)

	var fingerprint string
	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), "<m1@example.edu>", gomock.Any()).
		DoAndReturn(func(_ context.Context, sub *types.Submission, _, archiveKey string) (*models.SubmissionRecord, bool, error) {
			fingerprint = sub.Fingerprint
			assert.NotEmpty(t, sub.Fingerprint, "submission should be fingerprinted")
			assert.Equal(t, "s-1001", sub.StudentID, "wrong student resolved")
			assert.Equal(t, "tp02", sub.AssignmentID, "wrong assignment resolved")
			assert.NotEmpty(t, archiveKey, "payload should be archived first")
			return &models.SubmissionRecord{}, false, nil
		})
	f.store.EXPECT().VerdictFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)

	f.runner.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *sandbox.ExecutionRequest) (*types.Verdict, error) {
			assert.Equal(t, "/srv/harness/tp02", req.HarnessDir, "wrong harness")
			assert.Equal(t, []sandbox.Step{
				{Name: "build", Command: []string{"make", "build"}},
				{Name: "test", Command: []string{"make", "test"}},
			}, req.Steps, "wrong harness steps")
			assert.Equal(t, int64(30), req.Limits.WallSeconds, "limits should come from config")
			return passedVerdict(), nil
		})

	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateSandboxed).Return(nil)
	f.store.EXPECT().
		RecordVerdict(gomock.Any(), gomock.Any(), gomock.Any(), 1).
		DoAndReturn(func(_ context.Context, fp string, verdict *types.Verdict, attempts int) (*models.VerdictRecord, bool, error) {
			assert.Equal(t, types.VerdictStatusPassed, verdict.Status, "verdict should be passed")
			return models.NewVerdictRecord(fp, verdict, attempts), false, nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateRecorded).Return(nil)

	f.store.EXPECT().DeliveryFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.dispatcher.EXPECT().
		Dispatch(gomock.Any(), gomock.Any(), gomock.Any(), studentRepo).
		DoAndReturn(func(_ context.Context, sub *types.Submission, verdict *types.Verdict, target string) (*dispatch.Receipt, error) {
			assert.Equal(t, fingerprint, sub.Fingerprint, "dispatch should see the same submission")
			assert.Equal(t, types.VerdictStatusPassed, verdict.Status, "only passed verdicts dispatch")
			return &dispatch.Receipt{
				Target:    target,
				Branch:    "graded/tp02",
				CommitSHA: "0123456789abcdef",
			}, nil
		})
	f.store.EXPECT().
		CreateDelivery(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, delivery *models.DeliveryRecord) (bool, error) {
			assert.Equal(t, fingerprint, delivery.Fingerprint, "delivery should carry the fingerprint")
			assert.Equal(t, "graded/tp02", delivery.Branch, "delivery should carry the branch")
			return false, nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDispatched).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDone).Return(nil)

	err := f.coord.Handle(t.Context(), message(t, "<m1@example.edu>"))
	require.NoError(t, err, "failed to handle message")
}

func TestHandleFailedVerdictSkipsDispatch(t *testing.T) {
	f := newFixture(t, true)

	expectArchive(f, false)
	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.SubmissionRecord{}, false, nil)
	f.store.EXPECT().VerdictFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)
	f.runner.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		Return(&types.Verdict{
			Status:     types.VerdictStatusFailed,
			FailedStep: "test",
			Output:     "1 test failed\n",
		}, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateSandboxed).Return(nil)
	f.store.EXPECT().
		RecordVerdict(gomock.Any(), gomock.Any(), gomock.Any(), 1).
		DoAndReturn(func(_ context.Context, fp string, verdict *types.Verdict, attempts int) (*models.VerdictRecord, bool, error) {
			return models.NewVerdictRecord(fp, verdict, attempts), false, nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateRecorded).Return(nil)

	// No Dispatch, DeliveryFor or CreateDelivery expectations: a failed
	// verdict must go straight to done.
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDone).Return(nil)

	err := f.coord.Handle(t.Context(), message(t, "<m2@example.edu>"))
	require.NoError(t, err, "failed to handle message")
}

func TestHandleDuplicateReusesVerdict(t *testing.T) {
	f := newFixture(t, true)

	// The payload was archived by the first delivery.
	expectArchive(f, true)

	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.SubmissionRecord{}, true, nil)
	f.store.EXPECT().
		VerdictFor(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fingerprint string) (*models.VerdictRecord, error) {
			return models.NewVerdictRecord(fingerprint, &types.Verdict{
				Status:     types.VerdictStatusFailed,
				FailedStep: "test",
			}, 1), nil
		})

	// No Run expectation: a byte-identical resubmission must never reach the
	// sandbox a second time.
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateSandboxed).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateRecorded).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDone).Return(nil)

	err := f.coord.Handle(t.Context(), message(t, "<m3@example.edu>"))
	require.NoError(t, err, "failed to handle duplicate")
}

func TestHandleDuplicateStillDelivers(t *testing.T) {
	f := newFixture(t, true)

	// Crash window between record and dispatch: the verdict exists but no
	// delivery does, so the replay finishes the walk.
	expectArchive(f, true)

	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.SubmissionRecord{}, true, nil)
	f.store.EXPECT().
		VerdictFor(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fingerprint string) (*models.VerdictRecord, error) {
			return models.NewVerdictRecord(fingerprint, passedVerdict(), 1), nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateSandboxed).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateRecorded).Return(nil)

	f.store.EXPECT().DeliveryFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.dispatcher.EXPECT().
		Dispatch(gomock.Any(), gomock.Any(), gomock.Any(), studentRepo).
		Return(&dispatch.Receipt{Target: studentRepo, Branch: "graded/tp02", CommitSHA: "fed"}, nil)
	f.store.EXPECT().CreateDelivery(gomock.Any(), gomock.Any()).Return(false, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDispatched).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDone).Return(nil)

	err := f.coord.Handle(t.Context(), message(t, "<m4@example.edu>"))
	require.NoError(t, err, "failed to finish interrupted delivery")
}

func TestHandleExistingDeliveryShortCircuits(t *testing.T) {
	f := newFixture(t, true)

	expectArchive(f, true)

	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.SubmissionRecord{}, true, nil)
	f.store.EXPECT().
		VerdictFor(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fingerprint string) (*models.VerdictRecord, error) {
			return models.NewVerdictRecord(fingerprint, passedVerdict(), 1), nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateSandboxed).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateRecorded).Return(nil)

	// No Dispatch expectation: the existing record short-circuits the push.
	f.store.EXPECT().
		DeliveryFor(gomock.Any(), gomock.Any()).
		Return(&models.DeliveryRecord{Fingerprint: "x", Target: studentRepo}, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDispatched).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDone).Return(nil)

	err := f.coord.Handle(t.Context(), message(t, "<m5@example.edu>"))
	require.NoError(t, err, "failed to handle redelivered message")
}

func TestHandleDecodeFailurePoisons(t *testing.T) {
	f := newFixture(t, true)

	archive := submissionZip(t, map[string]string{"main.go": "package main\n"})
	msg := envelopeJSON(t, "<m6@example.edu>", "Stranger <nobody@example.edu>", archive)

	f.store.EXPECT().
		RaiseAttention(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, item *models.AttentionItem) error {
			assert.Equal(t, models.AttentionStageDecode, item.Stage, "wrong attention stage")
			assert.Equal(t, "<m6@example.edu>", item.MessageID, "wrong message id")
			assert.False(t, item.Fingerprint.Valid, "decode failures have no fingerprint")
			return nil
		})

	err := f.coord.Handle(t.Context(), msg)

	var pe *intake.PoisonError
	require.ErrorAs(t, err, &pe, "decode failure should poison the message")
	var de gradeerrors.DecodeError
	assert.ErrorAs(t, err, &de, "cause should be a decode error")
}

func TestHandleUnparseableEnvelopePoisons(t *testing.T) {
	f := newFixture(t, true)

	f.store.EXPECT().
		RaiseAttention(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, item *models.AttentionItem) error {
			assert.Equal(t, models.AttentionStageDecode, item.Stage, "wrong attention stage")
			assert.Empty(t, item.MessageID, "unparsed envelope has no message id")
			return nil
		})

	err := f.coord.Handle(t.Context(), []byte(`{"from": 42}`))

	var pe *intake.PoisonError
	require.ErrorAs(t, err, &pe, "bad envelope should poison the message")
}

func TestHandleSandboxErrorRetriedOnce(t *testing.T) {
	f := newFixture(t, false)

	expectArchive(f, false)
	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.SubmissionRecord{}, false, nil)
	f.store.EXPECT().VerdictFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)

	broken := f.runner.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		Return(&types.Verdict{
			Status: types.VerdictStatusError,
			Reason: types.ErrorReasonCrash,
		}, nil)
	f.runner.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		Return(passedVerdict(), nil).
		After(broken)

	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateSandboxed).Return(nil)
	f.store.EXPECT().
		RecordVerdict(gomock.Any(), gomock.Any(), gomock.Any(), 2).
		DoAndReturn(func(_ context.Context, fp string, verdict *types.Verdict, attempts int) (*models.VerdictRecord, bool, error) {
			assert.Equal(t, types.VerdictStatusPassed, verdict.Status, "second outcome should stand")
			return models.NewVerdictRecord(fp, verdict, attempts), false, nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateRecorded).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDone).Return(nil)

	err := f.coord.Handle(t.Context(), message(t, "<m7@example.edu>"))
	require.NoError(t, err, "failed to handle message")
}

func TestHandleSandboxBrokenTwiceRecordsError(t *testing.T) {
	f := newFixture(t, false)

	expectArchive(f, false)
	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.SubmissionRecord{}, false, nil)
	f.store.EXPECT().VerdictFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)

	f.runner.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		Return(nil, gradeerrors.SandboxErrorWrap(types.ErrorReasonTimeout, errors.New("wall clock exhausted"))).
		Times(2)

	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateSandboxed).Return(nil)
	f.store.EXPECT().
		RecordVerdict(gomock.Any(), gomock.Any(), gomock.Any(), 2).
		DoAndReturn(func(_ context.Context, fp string, verdict *types.Verdict, attempts int) (*models.VerdictRecord, bool, error) {
			assert.Equal(t, types.VerdictStatusError, verdict.Status, "broken runs should record an error")
			assert.Equal(t, types.ErrorReasonTimeout, verdict.Reason, "reason should survive")
			return models.NewVerdictRecord(fp, verdict, attempts), false, nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateRecorded).Return(nil)

	f.store.EXPECT().
		RaiseAttention(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, item *models.AttentionItem) error {
			assert.Equal(t, models.AttentionStageSandbox, item.Stage, "wrong attention stage")
			assert.True(t, item.Fingerprint.Valid, "sandbox attention should carry the fingerprint")
			return nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDone).Return(nil)

	err := f.coord.Handle(t.Context(), message(t, "<m8@example.edu>"))
	require.NoError(t, err, "submission must end with a recorded verdict")
}

func TestHandleDispatchRejectedFails(t *testing.T) {
	f := newFixture(t, true)

	expectArchive(f, false)
	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.SubmissionRecord{}, false, nil)
	f.store.EXPECT().VerdictFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(passedVerdict(), nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateSandboxed).Return(nil)
	f.store.EXPECT().
		RecordVerdict(gomock.Any(), gomock.Any(), gomock.Any(), 1).
		DoAndReturn(func(_ context.Context, fp string, verdict *types.Verdict, attempts int) (*models.VerdictRecord, bool, error) {
			return models.NewVerdictRecord(fp, verdict, attempts), false, nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateRecorded).Return(nil)

	f.store.EXPECT().DeliveryFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	// Rejection is permanent, so exactly one attempt.
	f.dispatcher.EXPECT().
		Dispatch(gomock.Any(), gomock.Any(), gomock.Any(), studentRepo).
		Return(nil, gradeerrors.DispatchErrorWrap(false, errors.New("repository not found")))

	f.store.EXPECT().
		RaiseAttention(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, item *models.AttentionItem) error {
			assert.Equal(t, models.AttentionStageDispatch, item.Stage, "wrong attention stage")
			return nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateFailed).Return(nil)

	err := f.coord.Handle(t.Context(), message(t, "<m9@example.edu>"))

	var pe *intake.PoisonError
	require.ErrorAs(t, err, &pe, "rejected dispatch should poison the message")
	var de gradeerrors.DispatchError
	require.ErrorAs(t, err, &de, "cause should be a dispatch error")
	assert.False(t, de.Transient, "rejection is not transient")
}

func TestHandleDispatchTransientRetries(t *testing.T) {
	f := newFixture(t, true)

	expectArchive(f, false)
	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.SubmissionRecord{}, false, nil)
	f.store.EXPECT().VerdictFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(passedVerdict(), nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateSandboxed).Return(nil)
	f.store.EXPECT().
		RecordVerdict(gomock.Any(), gomock.Any(), gomock.Any(), 1).
		DoAndReturn(func(_ context.Context, fp string, verdict *types.Verdict, attempts int) (*models.VerdictRecord, bool, error) {
			return models.NewVerdictRecord(fp, verdict, attempts), false, nil
		})
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateRecorded).Return(nil)

	f.store.EXPECT().DeliveryFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	flaky := f.dispatcher.EXPECT().
		Dispatch(gomock.Any(), gomock.Any(), gomock.Any(), studentRepo).
		Return(nil, gradeerrors.DispatchErrorWrap(true, errors.New("connection reset")))
	f.dispatcher.EXPECT().
		Dispatch(gomock.Any(), gomock.Any(), gomock.Any(), studentRepo).
		Return(&dispatch.Receipt{Target: studentRepo, Branch: "graded/tp02", CommitSHA: "abc"}, nil).
		After(flaky)

	f.store.EXPECT().CreateDelivery(gomock.Any(), gomock.Any()).Return(false, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDispatched).Return(nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDone).Return(nil)

	err := f.coord.Handle(t.Context(), message(t, "<m10@example.edu>"))
	require.NoError(t, err, "transient dispatch trouble should be retried")
}

func TestHandleStorageUnavailableRequeues(t *testing.T) {
	f := newFixture(t, true)

	expectArchive(f, false)
	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, false, gradeerrors.StorageUnavailableWrap(errors.New("connection refused")))

	// No RaiseAttention expectation: the store is down, the message goes
	// back to the queue instead.
	err := f.coord.Handle(t.Context(), message(t, "<m11@example.edu>"))

	var unavailable gradeerrors.StorageUnavailableError
	require.ErrorAs(t, err, &unavailable, "storage outage should surface")
	var pe *intake.PoisonError
	assert.False(t, errors.As(err, &pe), "storage outage must not poison the message")
}

func TestHandlePanicPoisons(t *testing.T) {
	f := newFixture(t, true)

	expectArchive(f, false)
	f.store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.SubmissionRecord{}, false, nil)
	f.store.EXPECT().VerdictFor(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.store.EXPECT().SetState(gomock.Any(), gomock.Any(), types.StateDecoded).Return(nil)

	f.runner.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *sandbox.ExecutionRequest) (*types.Verdict, error) {
			panic("jail wiring bug")
		})

	f.store.EXPECT().
		RaiseAttention(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, item *models.AttentionItem) error {
			assert.Contains(t, item.Detail, "panic", "detail should name the panic")
			assert.Equal(t, "<m12@example.edu>", item.MessageID, "wrong message id")
			return nil
		})

	err := f.coord.Handle(t.Context(), message(t, "<m12@example.edu>"))

	var pe *intake.PoisonError
	require.ErrorAs(t, err, &pe, "a panicking message should poison, not crash the worker")
}

func TestConsumeStopsOnCancel(t *testing.T) {
	f := newFixture(t, false)

	ctrl := gomock.NewController(t)
	queuer := mockintake.NewMockQueuer(ctrl)

	ctx, cancel := context.WithCancel(t.Context())
	queuer.EXPECT().
		Dequeue(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, time.Duration, intake.MessageHandler) error {
			cancel()
			return nil
		}).
		MinTimes(1)

	err := f.coord.Consume(ctx, queuer, 3)
	require.NoError(t, err, "failed to drain workers")
}

// Feeding more distinct students than workers exercises the pool bound: every
// submission ends done with its own verdict, and the number of sandbox runs
// in flight never exceeds the pool size.
func TestConsumeConcurrentSubmissions(t *testing.T) {
	const students = 8
	const workers = 3

	ctrl := gomock.NewController(t)

	roster := make([]config.StudentConfig, 0, students)
	decodeRoster := make([]decode.Student, 0, students)
	for i := range students {
		id := fmt.Sprintf("s-3%03d", i)
		email := id + "@example.edu"
		roster = append(roster, config.StudentConfig{ID: id, Name: "Student " + id, Email: email})
		decodeRoster = append(decodeRoster, decode.Student{ID: id, Name: "Student " + id, Email: email})
	}

	cfg := pipelineConfig(false)
	cfg.Course.Students = roster

	decoder := decode.NewDecoder(
		decodeRoster,
		[]decode.Assignment{{ID: "tp02"}},
		decode.ExtractLimits{MaxFiles: 64, MaxFileBytes: 1 << 20, MaxTotalBytes: 32 << 20},
	)

	store := mockrecord.NewMockStorer(ctrl)
	runner := mocksandbox.NewMockRunner(ctrl)
	archiver := mockupload.NewMockUploader(ctrl)

	coord := pipeline.NewCoordinatorBackoff(
		cfg, decoder, store, runner, nil, archiver, mockfetch.NewMockFetcher(ctrl),
		func() retry.Backoff {
			return retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
		},
	)

	archiver.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil).Times(students)
	archiver.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).
		Times(students)
	archiver.EXPECT().StoreIdentifier(gomock.Any()).Return("archives", nil).Times(students)

	var mu sync.Mutex
	studentByFingerprint := make(map[string]string)
	outputByFingerprint := make(map[string]string)
	doneByFingerprint := make(map[string]bool)

	store.EXPECT().
		EnsureSubmission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sub *types.Submission, _, _ string) (*models.SubmissionRecord, bool, error) {
			mu.Lock()
			defer mu.Unlock()
			studentByFingerprint[sub.Fingerprint] = sub.StudentID
			return &models.SubmissionRecord{}, false, nil
		}).
		Times(students)
	store.EXPECT().VerdictFor(gomock.Any(), gomock.Any()).Return(nil, nil).Times(students)

	var running atomic.Int64
	var peak atomic.Int64
	runner.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *sandbox.ExecutionRequest) (*types.Verdict, error) {
			now := running.Add(1)
			for {
				seen := peak.Load()
				if now <= seen || peak.CompareAndSwap(seen, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return &types.Verdict{
				Status:    types.VerdictStatusPassed,
				Output:    "graded " + req.Submission.StudentID + "\n",
				StartedAt: time.Now(),
			}, nil
		}).
		Times(students)

	store.EXPECT().
		RecordVerdict(gomock.Any(), gomock.Any(), gomock.Any(), 1).
		DoAndReturn(func(_ context.Context, fp string, verdict *types.Verdict, attempts int) (*models.VerdictRecord, bool, error) {
			mu.Lock()
			defer mu.Unlock()
			outputByFingerprint[fp] = verdict.Output
			return models.NewVerdictRecord(fp, verdict, attempts), false, nil
		}).
		Times(students)
	store.EXPECT().
		SetState(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fp string, to types.PipelineState) error {
			if to == types.StateDone {
				mu.Lock()
				doneByFingerprint[fp] = true
				mu.Unlock()
			}
			return nil
		}).
		AnyTimes()

	messages := make(chan []byte, students)
	for i := range students {
		archive := submissionZip(t, map[string]string{
			"main.go": fmt.Sprintf("package main // hand-in %d\n", i),
		})
		messages <- envelopeJSON(t,
			fmt.Sprintf("<c%d@example.edu>", i),
			fmt.Sprintf("Student s-3%03d <s-3%03d@example.edu>", i, i),
			archive,
		)
	}

	ctx, cancel := context.WithCancel(t.Context())
	queuer := mockintake.NewMockQueuer(ctrl)
	queuer.EXPECT().
		Dequeue(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ time.Duration, handler intake.MessageHandler) error {
			select {
			case msg := <-messages:
				return handler.Handle(ctx, msg)
			default:
				cancel()
				return nil
			}
		}).
		AnyTimes()

	err := coord.Consume(ctx, queuer, workers)
	require.NoError(t, err, "failed to drain workers")

	assert.LessOrEqual(t, peak.Load(), int64(workers), "sandbox runs should be bounded by the pool")
	assert.Len(t, studentByFingerprint, students, "every student should have a distinct fingerprint")
	for fp, student := range studentByFingerprint {
		assert.Equal(t, "graded "+student+"\n", outputByFingerprint[fp],
			"verdict should belong to its own student")
		assert.True(t, doneByFingerprint[fp], "submission should reach done")
	}
}
