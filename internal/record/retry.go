package record

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/models"
	"github.com/classgrade/gradepipe/internal/types"
)

// Ensure RetryStore implements Storer interface.
var _ Storer = (*RetryStore)(nil)

// Meta store that wraps storage operations in backoff loops. Outages shorter
// than the budget are absorbed; anything left after the budget surfaces as a
// storage unavailable error so the pipeline can park the message instead of
// losing the verdict.
type RetryStore struct {
	store   Storer
	backoff func() retry.Backoff
}

func NewRetryStoreBackoff(store Storer, backoff func() retry.Backoff) *RetryStore {
	return &RetryStore{
		store:   store,
		backoff: backoff,
	}
}

func NewRetryStore(store Storer) *RetryStore {
	return &RetryStore{
		store: store,
		backoff: func() retry.Backoff {
			b := retry.NewFibonacci(500 * time.Millisecond)
			b = retry.WithCappedDuration(time.Second*10, b)
			b = retry.WithMaxDuration(time.Second*120, b)
			return b
		},
	}
}

// permanent errors come back no matter how often the statement is replayed,
// so burning the backoff budget on them only delays the failure.
func permanent(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, ErrInvalidTransition)
}

func (r *RetryStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "RetryStore."+op)
	defer span.End()

	err := retry.Do(ctx, r.backoff(), func(rctx context.Context) error {
		//nolint:govet // shadow: intentionally shadow ctx and span to avoid using the incorrect one.
		ctx, span := tracer.Start(rctx, "RetryStore."+op+".Retry")
		defer span.End()

		if err := fn(ctx); err != nil {
			span.RecordError(err)
			if permanent(err) {
				span.SetStatus(codes.Error, "permanent storage error")
				return err
			}

			span.SetStatus(codes.Error, "transient storage error")
			return retry.RetryableError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "storage operation succeeded")
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage operation failed")

		if permanent(err) {
			return err
		}

		span.SetAttributes(attribute.Bool("storage.unavailable", true))
		return gradeerrors.StorageUnavailableWrap(err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "storage operation succeeded")
	return nil
}

func (r *RetryStore) EnsureSubmission(
	ctx context.Context,
	submission *types.Submission,
	messageID string,
	archiveKey string,
) (*models.SubmissionRecord, bool, error) {
	var record *models.SubmissionRecord
	var existed bool

	err := r.do(ctx, "EnsureSubmission", func(ctx context.Context) error {
		var err error
		record, existed, err = r.store.EnsureSubmission(ctx, submission, messageID, archiveKey)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return record, existed, nil
}

func (r *RetryStore) SetState(
	ctx context.Context,
	fingerprint string,
	to types.PipelineState,
) error {
	return r.do(ctx, "SetState", func(ctx context.Context) error {
		return r.store.SetState(ctx, fingerprint, to)
	})
}

func (r *RetryStore) RecordVerdict(
	ctx context.Context,
	fingerprint string,
	verdict *types.Verdict,
	attempts int,
) (*models.VerdictRecord, bool, error) {
	var record *models.VerdictRecord
	var existed bool

	err := r.do(ctx, "RecordVerdict", func(ctx context.Context) error {
		var err error
		record, existed, err = r.store.RecordVerdict(ctx, fingerprint, verdict, attempts)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return record, existed, nil
}

func (r *RetryStore) VerdictFor(
	ctx context.Context,
	fingerprint string,
) (*models.VerdictRecord, error) {
	var record *models.VerdictRecord

	err := r.do(ctx, "VerdictFor", func(ctx context.Context) error {
		var err error
		record, err = r.store.VerdictFor(ctx, fingerprint)
		return err
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *RetryStore) SubmissionFor(
	ctx context.Context,
	fingerprint string,
) (*models.SubmissionRecord, error) {
	var record *models.SubmissionRecord

	err := r.do(ctx, "SubmissionFor", func(ctx context.Context) error {
		var err error
		record, err = r.store.SubmissionFor(ctx, fingerprint)
		return err
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *RetryStore) CreateDelivery(
	ctx context.Context,
	delivery *models.DeliveryRecord,
) (bool, error) {
	var existed bool

	err := r.do(ctx, "CreateDelivery", func(ctx context.Context) error {
		var err error
		existed, err = r.store.CreateDelivery(ctx, delivery)
		return err
	})
	if err != nil {
		return false, err
	}

	return existed, nil
}

func (r *RetryStore) DeliveryFor(
	ctx context.Context,
	fingerprint string,
) (*models.DeliveryRecord, error) {
	var record *models.DeliveryRecord

	err := r.do(ctx, "DeliveryFor", func(ctx context.Context) error {
		var err error
		record, err = r.store.DeliveryFor(ctx, fingerprint)
		return err
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *RetryStore) RaiseAttention(ctx context.Context, item *models.AttentionItem) error {
	return r.do(ctx, "RaiseAttention", func(ctx context.Context) error {
		return r.store.RaiseAttention(ctx, item)
	})
}

func (r *RetryStore) ListAttention(
	ctx context.Context,
	includeResolved bool,
) ([]models.AttentionItem, error) {
	var items []models.AttentionItem

	err := r.do(ctx, "ListAttention", func(ctx context.Context) error {
		var err error
		items, err = r.store.ListAttention(ctx, includeResolved)
		return err
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (r *RetryStore) AttentionFor(
	ctx context.Context,
	id uuid.UUID,
) (*models.AttentionItem, error) {
	var item *models.AttentionItem

	err := r.do(ctx, "AttentionFor", func(ctx context.Context) error {
		var err error
		item, err = r.store.AttentionFor(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

func (r *RetryStore) ResolveAttention(ctx context.Context, id uuid.UUID) error {
	return r.do(ctx, "ResolveAttention", func(ctx context.Context) error {
		return r.store.ResolveAttention(ctx, id)
	})
}

func (r *RetryStore) Ping(ctx context.Context) error {
	return r.do(ctx, "Ping", func(ctx context.Context) error {
		return r.store.Ping(ctx)
	})
}
