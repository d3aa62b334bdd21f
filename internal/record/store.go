package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/classgrade/gradepipe/internal/models"
	"github.com/classgrade/gradepipe/internal/types"
)

var tracer = otel.Tracer("github.com/classgrade/gradepipe/internal/record")

// ErrInvalidTransition means a writer tried to move a submission somewhere
// its current state does not allow. Retrying will not help.
var ErrInvalidTransition = errors.New("invalid state transition")

//go:generate mockgen -destination ./mock/mock.go -package mock . Storer

// Storer is the durable pipeline ledger. All writes are idempotent on the
// submission fingerprint so replaying a message converges instead of
// duplicating rows.
type Storer interface {
	// Insert the submission if its fingerprint is new. Returns the row and
	// whether it already existed.
	EnsureSubmission(
		ctx context.Context,
		submission *types.Submission,
		messageID string,
		archiveKey string,
	) (*models.SubmissionRecord, bool, error)
	// Move the submission to a new state. Replays of transitions the row has
	// already made are no-ops.
	SetState(ctx context.Context, fingerprint string, to types.PipelineState) error
	// Insert the verdict if none exists for the fingerprint. Returns the row
	// and whether it already existed.
	RecordVerdict(
		ctx context.Context,
		fingerprint string,
		verdict *types.Verdict,
		attempts int,
	) (*models.VerdictRecord, bool, error)
	// The verdict for a fingerprint, or nil when none was recorded yet.
	VerdictFor(ctx context.Context, fingerprint string) (*models.VerdictRecord, error)
	// The submission row for a fingerprint, or nil when unknown.
	SubmissionFor(ctx context.Context, fingerprint string) (*models.SubmissionRecord, error)
	// Insert the delivery if none exists for the fingerprint. Returns whether
	// it already existed.
	CreateDelivery(ctx context.Context, delivery *models.DeliveryRecord) (bool, error)
	// The delivery for a fingerprint, or nil when none was made yet.
	DeliveryFor(ctx context.Context, fingerprint string) (*models.DeliveryRecord, error)
	// Add a failure to the operator attention set. Unresolved duplicates for
	// the same subject and stage are collapsed.
	RaiseAttention(ctx context.Context, item *models.AttentionItem) error
	// Unresolved attention items, oldest first.
	ListAttention(ctx context.Context, includeResolved bool) ([]models.AttentionItem, error)
	// The attention item for an id, or nil when unknown.
	AttentionFor(ctx context.Context, id uuid.UUID) (*models.AttentionItem, error)
	// Mark an attention item handled. Resolving twice is a no-op.
	ResolveAttention(ctx context.Context, id uuid.UUID) error
	Ping(ctx context.Context) error
}

// Ensure Store implements Storer interface.
var _ Storer = (*Store)(nil)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSubmission(
	ctx context.Context,
	submission *types.Submission,
	messageID string,
	archiveKey string,
) (*models.SubmissionRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "Store.EnsureSubmission",
		trace.WithAttributes(
			attribute.String("submission.fingerprint", submission.Fingerprint),
			attribute.String("submission.student_id", submission.StudentID),
			attribute.String("submission.assignment_id", submission.AssignmentID),
		),
	)
	defer span.End()

	db := s.db.WithContext(ctx)

	record := &models.SubmissionRecord{
		Fingerprint:  submission.Fingerprint,
		StudentID:    submission.StudentID,
		StudentName:  submission.StudentName,
		StudentEmail: submission.StudentEmail,
		AssignmentID: submission.AssignmentID,
		Language:     submission.Language,
		ArchiveKey:   archiveKey,
		State:        types.StateReceived,
		MessageID:    messageID,
		PayloadBytes: submission.PayloadBytes(),
		FileCount:    len(submission.Files),
		ReceivedAt:   submission.ReceivedAt,
	}

	result := db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to insert submission")
		return nil, false, fmt.Errorf("failed to insert submission: %w", result.Error)
	}

	existed := result.RowsAffected == 0
	if existed {
		span.AddEvent("fingerprint already known, fetching existing row")
		record = &models.SubmissionRecord{}
		err := db.Where("fingerprint = ?", submission.Fingerprint).First(record).Error
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch existing submission")
			return nil, false, fmt.Errorf("failed to fetch existing submission: %w", err)
		}
	}

	span.SetAttributes(attribute.Bool("submission.existed", existed))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ensured submission")
	return record, existed, nil
}

func (s *Store) SetState(
	ctx context.Context,
	fingerprint string,
	to types.PipelineState,
) error {
	ctx, span := tracer.Start(ctx, "Store.SetState",
		trace.WithAttributes(
			attribute.String("submission.fingerprint", fingerprint),
			attribute.String("state.to", to.String()),
		),
	)
	defer span.End()

	db := s.db.WithContext(ctx)

	prior := types.PriorStates(to)
	if len(prior) == 0 {
		err := fmt.Errorf("%w: nothing transitions into %q", ErrInvalidTransition, to)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no legal prior states")
		return err
	}

	result := db.Model(&models.SubmissionRecord{}).
		Where("fingerprint = ? AND state IN ?", fingerprint, prior).
		Update("state", to)
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to update state")
		return fmt.Errorf("failed to update state: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "transitioned state")
		return nil
	}

	// The guard did not match. Either the row is gone, the transition
	// already happened, or a writer is out of order.
	var current models.SubmissionRecord
	err := db.Where("fingerprint = ?", fingerprint).First(&current).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch row after guard miss")
		return fmt.Errorf("failed to fetch row after guard miss: %w", err)
	}

	span.SetAttributes(attribute.String("state.current", current.State.String()))

	if current.State == to || current.State.Reached(to) {
		span.AddEvent("state already reached, treating as replay")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "state already reached")
		return nil
	}

	err = fmt.Errorf("%w: %q cannot move to %q", ErrInvalidTransition, current.State, to)
	span.RecordError(err)
	span.SetStatus(codes.Error, "transition not legal from current state")
	return err
}

func (s *Store) RecordVerdict(
	ctx context.Context,
	fingerprint string,
	verdict *types.Verdict,
	attempts int,
) (*models.VerdictRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "Store.RecordVerdict",
		trace.WithAttributes(
			attribute.String("submission.fingerprint", fingerprint),
			attribute.String("verdict.status", verdict.Status.String()),
			attribute.Int("verdict.attempts", attempts),
		),
	)
	defer span.End()

	db := s.db.WithContext(ctx)

	record := models.NewVerdictRecord(fingerprint, verdict, attempts)
	result := db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to insert verdict")
		return nil, false, fmt.Errorf("failed to insert verdict: %w", result.Error)
	}

	existed := result.RowsAffected == 0
	if existed {
		span.AddEvent("verdict already recorded, fetching existing row")
		record = &models.VerdictRecord{}
		err := db.Where("fingerprint = ?", fingerprint).First(record).Error
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch existing verdict")
			return nil, false, fmt.Errorf("failed to fetch existing verdict: %w", err)
		}
	}

	span.SetAttributes(attribute.Bool("verdict.existed", existed))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "recorded verdict")
	return record, existed, nil
}

func (s *Store) VerdictFor(
	ctx context.Context,
	fingerprint string,
) (*models.VerdictRecord, error) {
	ctx, span := tracer.Start(ctx, "Store.VerdictFor",
		trace.WithAttributes(attribute.String("submission.fingerprint", fingerprint)),
	)
	defer span.End()

	var record models.VerdictRecord
	err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "no verdict recorded")
			return nil, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch verdict")
		return nil, fmt.Errorf("failed to fetch verdict: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched verdict")
	return &record, nil
}

func (s *Store) SubmissionFor(
	ctx context.Context,
	fingerprint string,
) (*models.SubmissionRecord, error) {
	ctx, span := tracer.Start(ctx, "Store.SubmissionFor",
		trace.WithAttributes(attribute.String("submission.fingerprint", fingerprint)),
	)
	defer span.End()

	var record models.SubmissionRecord
	err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "no submission for fingerprint")
			return nil, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch submission")
		return nil, fmt.Errorf("failed to fetch submission: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched submission")
	return &record, nil
}

func (s *Store) CreateDelivery(
	ctx context.Context,
	delivery *models.DeliveryRecord,
) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateDelivery",
		trace.WithAttributes(
			attribute.String("submission.fingerprint", delivery.Fingerprint),
			attribute.String("delivery.target", delivery.Target),
		),
	)
	defer span.End()

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(delivery)
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to insert delivery")
		return false, fmt.Errorf("failed to insert delivery: %w", result.Error)
	}

	existed := result.RowsAffected == 0
	span.SetAttributes(attribute.Bool("delivery.existed", existed))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created delivery")
	return existed, nil
}

func (s *Store) DeliveryFor(
	ctx context.Context,
	fingerprint string,
) (*models.DeliveryRecord, error) {
	ctx, span := tracer.Start(ctx, "Store.DeliveryFor",
		trace.WithAttributes(attribute.String("submission.fingerprint", fingerprint)),
	)
	defer span.End()

	var record models.DeliveryRecord
	err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "no delivery recorded")
			return nil, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch delivery")
		return nil, fmt.Errorf("failed to fetch delivery: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched delivery")
	return &record, nil
}

func (s *Store) RaiseAttention(ctx context.Context, item *models.AttentionItem) error {
	ctx, span := tracer.Start(ctx, "Store.RaiseAttention",
		trace.WithAttributes(
			attribute.String("attention.stage", item.Stage),
			attribute.String("attention.message_id", item.MessageID),
		),
	)
	defer span.End()

	db := s.db.WithContext(ctx)

	var exists bool
	var err error
	if item.Fingerprint.Valid {
		exists, err = models.Exists[models.AttentionItem](
			ctx, db,
			"fingerprint = ? AND stage = ? AND resolved = false",
			item.Fingerprint.V, item.Stage,
		)
	} else {
		exists, err = models.Exists[models.AttentionItem](
			ctx, db,
			"message_id = ? AND stage = ? AND resolved = false",
			item.MessageID, item.Stage,
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check for open item")
		return fmt.Errorf("failed to check for open item: %w", err)
	}

	if exists {
		span.AddEvent("open item already present, collapsing")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "attention already raised")
		return nil
	}

	// resolved is NOT NULL; callers leave it at the Null zero value.
	if !item.Resolved.Valid {
		item.Resolved = models.NewNullFromData(false)
	}

	if err := db.Create(item).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert attention item")
		return fmt.Errorf("failed to insert attention item: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "raised attention")
	return nil
}

func (s *Store) ListAttention(
	ctx context.Context,
	includeResolved bool,
) ([]models.AttentionItem, error) {
	ctx, span := tracer.Start(ctx, "Store.ListAttention",
		trace.WithAttributes(attribute.Bool("attention.include_resolved", includeResolved)),
	)
	defer span.End()

	db := s.db.WithContext(ctx)
	if !includeResolved {
		db = db.Where("resolved = false")
	}

	var items []models.AttentionItem
	if err := db.Order("created_at asc").Find(&items).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list attention items")
		return nil, fmt.Errorf("failed to list attention items: %w", err)
	}

	span.SetAttributes(attribute.Int("attention.count", len(items)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed attention items")
	return items, nil
}

func (s *Store) AttentionFor(
	ctx context.Context,
	id uuid.UUID,
) (*models.AttentionItem, error) {
	ctx, span := tracer.Start(ctx, "Store.AttentionFor",
		trace.WithAttributes(attribute.String("attention.id", id.String())),
	)
	defer span.End()

	var item models.AttentionItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "no attention item for id")
			return nil, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch attention item")
		return nil, fmt.Errorf("failed to fetch attention item: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched attention item")
	return &item, nil
}

func (s *Store) ResolveAttention(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "Store.ResolveAttention",
		trace.WithAttributes(attribute.String("attention.id", id.String())),
	)
	defer span.End()

	db := s.db.WithContext(ctx)

	result := db.Model(&models.AttentionItem{}).
		Where("id = ? AND resolved = false", id).
		Update("resolved", true)
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to resolve attention item")
		return fmt.Errorf("failed to resolve attention item: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		exists, err := models.Exists[models.AttentionItem](ctx, db, "id = ?", id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to check item after guard miss")
			return fmt.Errorf("failed to check item after guard miss: %w", err)
		}
		if !exists {
			span.RecordError(gorm.ErrRecordNotFound)
			span.SetStatus(codes.Error, "attention item not found")
			return gorm.ErrRecordNotFound
		}

		span.AddEvent("item already resolved")
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "resolved attention item")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Store.Ping")
	defer span.End()

	sqlDB, err := s.db.DB()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get database handle")
		return err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ping database")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "pinged database")
	return nil
}
