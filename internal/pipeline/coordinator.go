package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/classgrade/gradepipe/internal/audit"
	"github.com/classgrade/gradepipe/internal/config"
	"github.com/classgrade/gradepipe/internal/decode"
	"github.com/classgrade/gradepipe/internal/dispatch"
	"github.com/classgrade/gradepipe/internal/fetch"
	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/intake"
	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/models"
	"github.com/classgrade/gradepipe/internal/record"
	"github.com/classgrade/gradepipe/internal/sandbox"
	"github.com/classgrade/gradepipe/internal/types"
	"github.com/classgrade/gradepipe/internal/upload"
)

var tracer = otel.Tracer(
	"github.com/classgrade/gradepipe/internal/pipeline",
)

// handleTimeout bounds one message end to end, sandbox run included.
const handleTimeout = 10 * time.Minute

// Coordinator walks every intake message through
// received → decoded → sandboxed → recorded → dispatched → done. It is the
// only place that decides between retry, terminal failure and operator
// attention; everything below it reports classified errors as values.
type Coordinator struct {
	cfg        *config.Config
	decoder    *decode.Decoder
	store      record.Storer
	runner     sandbox.Runner
	dispatcher dispatch.Dispatcher
	archiver   upload.Uploader
	fetcher    fetch.Fetcher
	backoff    func() retry.Backoff
}

var _ intake.MessageHandler = (*Coordinator)(nil)

// NewCoordinatorBackoff wires the pipeline with an explicit backoff policy
// for transient dispatch failures. dispatcher may be nil when delivery is
// disabled; every other collaborator is required.
func NewCoordinatorBackoff(
	cfg *config.Config,
	decoder *decode.Decoder,
	store record.Storer,
	runner sandbox.Runner,
	dispatcher dispatch.Dispatcher,
	archiver upload.Uploader,
	fetcher fetch.Fetcher,
	backoff func() retry.Backoff,
) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		decoder:    decoder,
		store:      store,
		runner:     runner,
		dispatcher: dispatcher,
		archiver:   archiver,
		fetcher:    fetcher,
		backoff:    backoff,
	}
}

// NewCoordinator wires the pipeline with the default dispatch backoff.
func NewCoordinator(
	cfg *config.Config,
	decoder *decode.Decoder,
	store record.Storer,
	runner sandbox.Runner,
	dispatcher dispatch.Dispatcher,
	archiver upload.Uploader,
	fetcher fetch.Fetcher,
) *Coordinator {
	return NewCoordinatorBackoff(
		cfg, decoder, store, runner, dispatcher, archiver, fetcher,
		func() retry.Backoff {
			b := retry.NewFibonacci(time.Second)
			b = retry.WithCappedDuration(time.Second*15, b)
			b = retry.WithMaxDuration(time.Second*90, b)
			return b
		},
	)
}

// Handle consumes one queue message. A returned PoisonError retires the
// message; any other error sends it back to the queue for another attempt.
func (c *Coordinator) Handle(ctx context.Context, message []byte) (err error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Handle", trace.WithNewRoot())
	defer span.End()

	// A panicking message must neither kill the worker nor poison its
	// neighbors. It retires with an attention item like any other reject.
	messageID := ""
	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("panic while handling message: %v", r)
			c.rejectMessage(ctx, messageID, panicErr)
			span.RecordError(panicErr)
			span.SetStatus(codes.Error, "panicked while handling message")
			err = intake.WrapPoisonError(panicErr)
		}
	}()

	env, err := intake.ParseEnvelope(message)
	if err != nil {
		c.rejectMessage(ctx, "", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse envelope")
		return intake.WrapPoisonError(err)
	}
	messageID = env.MessageID

	span.SetAttributes(
		attribute.String("message.id", env.MessageID),
		attribute.String("message.from", env.From),
		attribute.String("message.subject", env.Subject),
	)

	audit.LogMessageReceived(c.auditContext(nil), env.MessageID, env.From, env.Subject)

	// The fetcher's client carries the transport retry budget, so an archive
	// that still cannot be materialized is as terminal as a bad decode.
	archive, err := env.Archive(ctx, c.fetcher, int(c.cfg.Intake.MaxArchiveBytes))
	if err != nil {
		c.rejectMessage(ctx, env.MessageID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to materialize archive")
		return intake.WrapPoisonError(err)
	}

	sub, err := c.decoder.Decode(ctx, env.RawMessage(archive, time.Now()))
	if err != nil {
		c.rejectMessage(ctx, env.MessageID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode message")
		return intake.WrapPoisonError(err)
	}

	if err := c.process(ctx, env.MessageID, archive, sub); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to process submission")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "handled message")
	return nil
}

// process carries a decoded submission to a terminal state. Every step is
// idempotent on the fingerprint, so a replay after a crash or requeue
// converges on the same row instead of redoing work.
func (c *Coordinator) process(
	ctx context.Context,
	messageID string,
	archive []byte,
	sub *types.Submission,
) error {
	ctx, span := tracer.Start(ctx, "Coordinator.process", trace.WithAttributes(
		attribute.String("submission.fingerprint", sub.Fingerprint),
		attribute.String("submission.student_id", sub.StudentID),
		attribute.String("submission.assignment_id", sub.AssignmentID),
	))
	defer span.End()

	actx := c.auditContext(sub)

	audit.LogSubmissionDecoded(
		actx,
		sub.Fingerprint,
		messageID,
		len(sub.Files),
		sub.PayloadBytes(),
		sub.Language,
	)

	archiveKey, err := upload.HashedBytes(ctx, c.archiver, archive)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to archive payload")
		return fmt.Errorf("failed to archive payload: %w", err)
	}

	bucket, err := c.archiver.StoreIdentifier(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get store identifier")
	}
	audit.LogFileArchived(actx, bucket, archiveKey, archiveKey, audit.EntitySubmission, sub.Fingerprint)

	_, existed, err := c.store.EnsureSubmission(ctx, sub, messageID, archiveKey)
	if err != nil {
		return c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
	}
	if existed {
		span.AddEvent("fingerprint already known")
	}

	prior, err := c.store.VerdictFor(ctx, sub.Fingerprint)
	if err != nil {
		return c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
	}

	var verdict *types.Verdict
	if prior != nil {
		// Byte-identical resubmission or a replay: the recorded outcome is
		// authoritative and the sandbox never runs a second time.
		audit.LogSubmissionDuplicate(actx, sub.Fingerprint, messageID)
		span.AddEvent("verdict already recorded, skipping sandbox")
		verdict = prior.ToVerdict()

		err = c.advance(ctx, sub.Fingerprint,
			types.StateDecoded, types.StateSandboxed, types.StateRecorded)
		if err != nil {
			return c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
		}
	} else {
		verdict, err = c.gradeAndRecord(ctx, messageID, sub, actx)
		if err != nil {
			return err
		}
	}

	if err := c.deliver(ctx, messageID, sub, verdict, actx); err != nil {
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "processed submission")
	return nil
}

// gradeAndRecord runs the sandbox and makes its verdict durable. The verdict
// row is written before any state past sandboxed, so a crash can only lose
// work, never a decided outcome.
func (c *Coordinator) gradeAndRecord(
	ctx context.Context,
	messageID string,
	sub *types.Submission,
	actx audit.Context,
) (*types.Verdict, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.gradeAndRecord", trace.WithAttributes(
		attribute.String("submission.fingerprint", sub.Fingerprint),
	))
	defer span.End()

	err := c.advance(ctx, sub.Fingerprint, types.StateDecoded)
	if err != nil {
		return nil, c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
	}

	verdict, attempts, err := c.runSandbox(ctx, sub)
	if err != nil {
		// Config drift: the assignment vanished between decode and here.
		c.raiseAttention(ctx, actx, &models.AttentionItem{
			Fingerprint: models.NewNullFromData(sub.Fingerprint),
			MessageID:   messageID,
			Stage:       models.AttentionStageSandbox,
			Detail:      err.Error(),
		})
		c.markFailed(ctx, sub.Fingerprint)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to sandbox submission")
		return nil, intake.WrapPoisonError(err)
	}

	err = c.advance(ctx, sub.Fingerprint, types.StateSandboxed)
	if err != nil {
		return nil, c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
	}

	recorded, _, err := c.store.RecordVerdict(ctx, sub.Fingerprint, verdict, attempts)
	if err != nil {
		return nil, c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
	}
	// First write wins: a racing worker's verdict may already be in place.
	verdict = recorded.ToVerdict()

	audit.LogVerdictRecorded(actx, sub.Fingerprint, verdict, recorded.Attempts)

	err = c.advance(ctx, sub.Fingerprint, types.StateRecorded)
	if err != nil {
		return nil, c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
	}

	if verdict.Status == types.VerdictStatusError {
		// Recorded, but the sandbox broke twice and nobody judged the
		// hand-in. An operator has to look even though the pipeline went on.
		c.raiseAttention(ctx, actx, &models.AttentionItem{
			Fingerprint: models.NewNullFromData(sub.Fingerprint),
			MessageID:   messageID,
			Stage:       models.AttentionStageSandbox,
			Detail:      fmt.Sprintf("sandbox error (%s): %s", verdict.Reason, verdict.Output),
		})
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "graded and recorded submission")
	return verdict, nil
}

// runSandbox resolves the assignment harness and executes the submission,
// retrying a broken run exactly once. The second outcome stands.
func (c *Coordinator) runSandbox(
	ctx context.Context,
	sub *types.Submission,
) (*types.Verdict, int, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.runSandbox", trace.WithAttributes(
		attribute.String("submission.fingerprint", sub.Fingerprint),
		attribute.String("submission.assignment_id", sub.AssignmentID),
	))
	defer span.End()

	assignment, ok := c.cfg.Course.AssignmentByID(sub.AssignmentID)
	if !ok {
		err := fmt.Errorf("assignment %q has no harness configured", sub.AssignmentID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing assignment config")
		return nil, 0, err
	}

	req := ExecutionRequestFor(c.cfg, sub, assignment)

	verdict, err := c.runner.Run(ctx, req)
	if err == nil && verdict.Status != types.VerdictStatusError {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "sandboxed submission")
		return verdict, 1, nil
	}

	if err != nil {
		span.RecordError(err)
	}
	span.AddEvent("sandbox run broke, retrying once")

	verdict, err = c.runner.Run(ctx, req)
	if err != nil {
		verdict = brokenRunVerdict(err)
	}

	span.SetAttributes(attribute.String("verdict.status", verdict.Status.String()))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "sandboxed submission")
	return verdict, 2, nil
}

// ExecutionRequestFor resolves an assignment's harness, steps and effective
// limits into one sandbox request. The one-shot grade command shares it with
// the coordinator so both grade exactly the same way.
func ExecutionRequestFor(
	cfg *config.Config,
	sub *types.Submission,
	assignment *config.AssignmentConfig,
) *sandbox.ExecutionRequest {
	steps := make([]sandbox.Step, 0, len(assignment.Steps))
	for _, s := range assignment.Steps {
		steps = append(steps, sandbox.Step{Name: s.Name, Command: s.Command})
	}

	limits := cfg.EffectiveLimits(assignment)

	return &sandbox.ExecutionRequest{
		Submission: sub,
		HarnessDir: assignment.HarnessDir,
		Steps:      steps,
		Limits: sandbox.Limits{
			CPUSeconds:      limits.CPUSeconds,
			WallSeconds:     limits.WallSeconds,
			MemoryBytes:     limits.MemoryBytes,
			MaxPids:         limits.MaxPids,
			MaxFileBytes:    limits.MaxFileBytes,
			MaxOutputBytes:  limits.MaxOutputBytes,
			MaxProcessBytes: limits.MaxProcessBytes,
		},
	}
}

// brokenRunVerdict stands in when both sandbox attempts died before deciding
// anything. The submission still ends with a recorded verdict.
func brokenRunVerdict(err error) *types.Verdict {
	reason := types.ErrorReasonCrash
	var se gradeerrors.SandboxError
	if errors.As(err, &se) {
		reason = se.Reason
	}

	return &types.Verdict{
		Status:    types.VerdictStatusError,
		Reason:    reason,
		Output:    err.Error(),
		StartedAt: time.Now(),
	}
}

// deliver pushes a passing verdict to the student's repository and walks the
// submission to its terminal state. A delivery record already on file
// short-circuits the push, which covers a crash between record and dispatch.
func (c *Coordinator) deliver(
	ctx context.Context,
	messageID string,
	sub *types.Submission,
	verdict *types.Verdict,
	actx audit.Context,
) error {
	ctx, span := tracer.Start(ctx, "Coordinator.deliver", trace.WithAttributes(
		attribute.String("submission.fingerprint", sub.Fingerprint),
		attribute.String("verdict.status", verdict.Status.String()),
	))
	defer span.End()

	target := c.deliveryTarget(sub)
	if verdict.Status != types.VerdictStatusPassed || target == "" {
		if err := c.advance(ctx, sub.Fingerprint, types.StateDone); err != nil {
			return c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "nothing to deliver")
		return nil
	}

	span.SetAttributes(attribute.String("delivery.target", target))

	existing, err := c.store.DeliveryFor(ctx, sub.Fingerprint)
	if err != nil {
		return c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
	}
	if existing != nil {
		span.AddEvent("delivery already recorded")

		err = c.advance(ctx, sub.Fingerprint, types.StateDispatched, types.StateDone)
		if err != nil {
			return c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "already delivered")
		return nil
	}

	receipt, err := c.dispatchWithRetry(ctx, sub, verdict, target)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid delivery. Requeue so another worker finishes the
			// walk; the delivery record keeps the push idempotent.
			return err
		}

		c.raiseAttention(ctx, actx, &models.AttentionItem{
			Fingerprint: models.NewNullFromData(sub.Fingerprint),
			MessageID:   messageID,
			Stage:       models.AttentionStageDispatch,
			Detail:      err.Error(),
		})
		c.markFailed(ctx, sub.Fingerprint)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deliver verdict")
		return intake.WrapPoisonError(err)
	}

	delivery := &models.DeliveryRecord{
		Fingerprint: sub.Fingerprint,
		Target:      target,
		Branch:      receipt.Branch,
		CommitSHA:   receipt.CommitSHA,
	}
	if receipt.PullRequestURL != "" {
		delivery.PullRequestURL = models.NewNullFromData(receipt.PullRequestURL)
	}

	existedDelivery, err := c.store.CreateDelivery(ctx, delivery)
	if err != nil {
		return c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
	}
	if !existedDelivery {
		audit.LogResultDispatched(
			actx,
			sub.Fingerprint,
			target,
			receipt.Branch,
			receipt.CommitSHA,
			receipt.PullRequestURL,
		)
	}

	err = c.advance(ctx, sub.Fingerprint, types.StateDispatched, types.StateDone)
	if err != nil {
		return c.storeFailure(ctx, actx, messageID, sub.Fingerprint, err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "delivered verdict")
	return nil
}

// dispatchWithRetry retries transient delivery trouble on a fibonacci
// schedule. Rejection by the target never retries.
func (c *Coordinator) dispatchWithRetry(
	ctx context.Context,
	sub *types.Submission,
	verdict *types.Verdict,
	target string,
) (*dispatch.Receipt, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.dispatchWithRetry", trace.WithAttributes(
		attribute.String("delivery.target", target),
	))
	defer span.End()

	var receipt *dispatch.Receipt
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		r, err := c.dispatcher.Dispatch(ctx, sub, verdict, target)
		if err != nil {
			var de gradeerrors.DispatchError
			if errors.As(err, &de) && de.Transient {
				return retry.RetryableError(err)
			}

			return err
		}

		receipt = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dispatch")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "dispatched verdict")
	return receipt, nil
}

// deliveryTarget is the student's repository URL, empty when dispatch is off
// or the roster carries no repo for them.
func (c *Coordinator) deliveryTarget(sub *types.Submission) string {
	if c.dispatcher == nil || c.cfg.Dispatch == nil ||
		c.cfg.Dispatch.Enabled == nil || !*c.cfg.Dispatch.Enabled {
		return ""
	}

	student, ok := c.cfg.Course.StudentByID(sub.StudentID)
	if !ok {
		return ""
	}

	return student.RepoURL
}

// advance walks the ledger through the given states in order. Transitions the
// row already made are no-ops inside SetState, so replays converge.
func (c *Coordinator) advance(
	ctx context.Context,
	fingerprint string,
	states ...types.PipelineState,
) error {
	for _, state := range states {
		if err := c.store.SetState(ctx, fingerprint, state); err != nil {
			return err
		}
	}

	return nil
}

// storeFailure classifies a failed ledger write. An unavailable store sends
// the message back to the queue so the submission stays in flight; permanent
// errors retire it with an attention item.
func (c *Coordinator) storeFailure(
	ctx context.Context,
	actx audit.Context,
	messageID string,
	fingerprint string,
	err error,
) error {
	var unavailable gradeerrors.StorageUnavailableError
	if errors.As(err, &unavailable) {
		return err
	}

	c.raiseAttention(ctx, actx, &models.AttentionItem{
		Fingerprint: models.NewNullFromData(fingerprint),
		MessageID:   messageID,
		Stage:       models.AttentionStageRecord,
		Detail:      err.Error(),
	})
	c.markFailed(ctx, fingerprint)

	return intake.WrapPoisonError(err)
}

// rejectMessage retires a message that can never become a submission. The
// audit line and the attention item are the only trace it leaves.
func (c *Coordinator) rejectMessage(ctx context.Context, messageID string, reason error) {
	actx := c.auditContext(nil)
	audit.LogMessageRejected(actx, messageID, models.AttentionStageDecode, reason.Error())
	c.raiseAttention(ctx, actx, &models.AttentionItem{
		MessageID: messageID,
		Stage:     models.AttentionStageDecode,
		Detail:    reason.Error(),
	})
}

// raiseAttention writes the operator item and its audit line. A failed write
// is logged, not fatal: the caller is usually already on a failure path.
func (c *Coordinator) raiseAttention(
	ctx context.Context,
	actx audit.Context,
	item *models.AttentionItem,
) {
	if err := c.store.RaiseAttention(ctx, item); err != nil {
		logger.Logger.Error("could not raise attention",
			"stage", item.Stage,
			"messageID", item.MessageID,
			"error", err,
		)
	}

	audit.LogAttentionRaised(
		actx,
		item.Stage,
		item.Detail,
		models.PtrFromNull(item.Fingerprint),
		item.MessageID,
	)
}

func (c *Coordinator) markFailed(ctx context.Context, fingerprint string) {
	if err := c.store.SetState(ctx, fingerprint, types.StateFailed); err != nil {
		logger.Logger.Error("could not mark submission failed",
			"fingerprint", fingerprint,
			"error", err,
		)
	}
}

func (c *Coordinator) auditContext(sub *types.Submission) audit.Context {
	actx := audit.Context{CourseID: c.cfg.Course.ID}
	if sub != nil {
		actx.StudentID = &sub.StudentID
		actx.AssignmentID = &sub.AssignmentID
	}

	return actx
}
