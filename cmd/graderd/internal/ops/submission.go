package ops

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/classgrade/gradepipe/internal/intake"
	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/models"
	"github.com/classgrade/gradepipe/internal/types"
)

// Replayed archives are fetched back off the object store by URL; the link
// only has to outlive the queue backlog.
const replayLinkDuration = time.Hour

// SubmissionStatus returns everything recorded for one fingerprint
//
//	@Summary		Get submission status
//	@Description	submission, verdict and delivery for a fingerprint. Verdict and delivery are null until those stages ran.
//	@Tags			submission
//	@Accept			json
//	@Produce		json
//
//	@Security		BasicAuth
//
//	@Param			fingerprint	path		string	true	"Submission Fingerprint"
//
//	@Success		200			{object}	SubmissionStatusResponse
//
//	@Failure		400			{object}	types.Error
//	@Failure		401			{object}	types.Error
//	@Failure		404			{object}	types.Error
//	@Failure		500			{object}	types.Error
//
//	@Router			/v1/submissions/{fingerprint}/ [get]
func (h *Handler) SubmissionStatus(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "SubmissionStatus")
	defer span.End()

	type requestData struct {
		Fingerprint string `param:"fingerprint" validate:"required,len=64,hexadecimal"`
	}
	var rdata requestData

	span.AddEvent("parsing request data")
	err := c.Bind(&rdata)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to parse request data")
		span.RecordError(err)
		return echo.NewHTTPError(
			http.StatusBadRequest,
			types.StringError("failed to parse request data"),
		)
	}

	span.AddEvent("validating request data")
	err = c.Validate(rdata)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to validate request data")
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusBadRequest, types.ValidationError(err))
	}

	span.SetAttributes(attribute.String("submission.fingerprint", rdata.Fingerprint))

	span.AddEvent("fetching submission")
	sub, err := h.store.SubmissionFor(ctx, rdata.Fingerprint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch submission")
		return internalServerError
	}
	if sub == nil {
		span.SetStatus(codes.Ok, "submission not found")
		span.RecordError(nil)
		return notFoundError
	}

	span.AddEvent("fetching verdict")
	verdict, err := h.store.VerdictFor(ctx, rdata.Fingerprint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch verdict")
		return internalServerError
	}

	span.AddEvent("fetching delivery")
	delivery, err := h.store.DeliveryFor(ctx, rdata.Fingerprint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch delivery")
		return internalServerError
	}

	resp := SubmissionStatusResponse{
		Submission: SubmissionResponse{
			Fingerprint:  sub.Fingerprint,
			StudentID:    sub.StudentID,
			AssignmentID: sub.AssignmentID,
			Language:     sub.Language,
			State:        string(sub.State),
			FileCount:    sub.FileCount,
			PayloadBytes: sub.PayloadBytes,
			ReceivedAt:   sub.ReceivedAt.UTC().Format(time.RFC3339),
		},
	}

	if verdict != nil {
		vresp := VerdictResponse{
			Status:   string(verdict.Status),
			Output:   verdict.Output,
			Attempts: verdict.Attempts,
		}
		if verdict.Reason.Valid {
			vresp.Reason = verdict.Reason.V
		}
		if verdict.FailedStep.Valid {
			vresp.FailedStep = verdict.FailedStep.V
		}
		resp.Verdict = &vresp
	}

	if delivery != nil {
		dresp := DeliveryResponse{
			Target:    delivery.Target,
			Branch:    delivery.Branch,
			CommitSHA: delivery.CommitSHA,
		}
		dresp.PullRequestURL = models.PtrFromNull(delivery.PullRequestURL)
		resp.Delivery = &dresp
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched submission status")
	return c.JSON(http.StatusOK, resp)
}

// ReplaySubmission pushes a stored submission back through the pipeline
//
//	@Summary		Replay a submission
//	@Description	re-enqueue the archived payload as a fresh intake message. The sandbox never reruns for a fingerprint that already has a verdict; a replay finishes whatever stages a crash or failure left undone.
//	@Tags			submission
//	@Accept			json
//	@Produce		json
//
//	@Security		BasicAuth
//
//	@Param			fingerprint	path		string	true	"Submission Fingerprint"
//
//	@Success		202			{object}	ReplayResponse
//
//	@Failure		400			{object}	types.Error
//	@Failure		401			{object}	types.Error
//	@Failure		404			{object}	types.Error
//	@Failure		500			{object}	types.Error
//
//	@Router			/v1/submissions/{fingerprint}/replay/ [post]
func (h *Handler) ReplaySubmission(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ReplaySubmission")
	defer span.End()

	key, ok := c.Get("auth").(*models.OperatorKey)
	if !ok {
		span.RecordError(errTypeAssertMismatch)
		span.SetStatus(codes.Error, fmt.Sprintf("auth: %s", errTypeAssertMismatch))
		return internalServerError
	}

	type requestData struct {
		Fingerprint string `param:"fingerprint" validate:"required,len=64,hexadecimal"`
	}
	var rdata requestData

	span.AddEvent("parsing request data")
	err := c.Bind(&rdata)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to parse request data")
		span.RecordError(err)
		return echo.NewHTTPError(
			http.StatusBadRequest,
			types.StringError("failed to parse request data"),
		)
	}

	span.AddEvent("validating request data")
	err = c.Validate(rdata)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to validate request data")
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusBadRequest, types.ValidationError(err))
	}

	span.SetAttributes(
		attribute.String("auth.note", key.Note),
		attribute.String("submission.fingerprint", rdata.Fingerprint),
	)

	span.AddEvent("fetching submission")
	sub, err := h.store.SubmissionFor(ctx, rdata.Fingerprint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch submission")
		return internalServerError
	}
	if sub == nil {
		span.SetStatus(codes.Ok, "submission not found")
		span.RecordError(nil)
		return notFoundError
	}

	messageID := "replay-" + uuid.New().String()

	span.AddEvent("starting replay task")
	h.tasks.Run(ctx, "ReplaySubmissionTask", func(ctx context.Context) {
		l := logger.Logger.With(
			"fingerprint", sub.Fingerprint,
			"messageID", messageID,
		)

		archiveURL, err := h.archiver.PresignedReadURL(
			ctx,
			sub.ArchiveKey,
			replayLinkDuration,
		)
		if err != nil {
			l.ErrorContext(ctx, "failed to presign archive for replay", "error", err)
			return
		}

		env := intake.Envelope{
			MessageID:  messageID,
			From:       sub.StudentEmail,
			Subject:    sub.AssignmentID,
			ReceivedAt: sub.ReceivedAt,
			ArchiveURL: archiveURL,
		}

		if err := h.queuer.Enqueue(ctx, env); err != nil {
			l.ErrorContext(ctx, "failed to enqueue replay envelope", "error", err)
			return
		}

		l.InfoContext(ctx, "enqueued replay envelope")
	})

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "accepted replay")
	return c.JSON(http.StatusAccepted, ReplayResponse{MessageID: messageID})
}
