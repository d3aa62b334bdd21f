package decode

import (
	"context"
	"net/mail"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/identifier"
	"github.com/classgrade/gradepipe/internal/types"
)

var tracer = otel.Tracer("github.com/classgrade/gradepipe/internal/decode")

// Student is one roster entry the decoder can resolve a sender against.
type Student struct {
	ID    string
	Name  string
	Email string
}

// Assignment names one gradable unit and the subject tokens that select it.
type Assignment struct {
	ID      string
	Aliases []string
}

// Decoder turns raw mail messages into canonical submissions. Resolution is
// roster driven: unknown senders and unknown assignments are decode failures,
// never submissions.
type Decoder struct {
	students    map[string]Student
	assignments map[string]string
	limits      ExtractLimits
}

func NewDecoder(students []Student, assignments []Assignment, limits ExtractLimits) *Decoder {
	byEmail := make(map[string]Student, len(students))
	for _, s := range students {
		byEmail[strings.ToLower(s.Email)] = s
	}

	byAlias := make(map[string]string)
	for _, a := range assignments {
		byAlias[strings.ToLower(a.ID)] = a.ID
		for _, alias := range a.Aliases {
			byAlias[strings.ToLower(alias)] = a.ID
		}
	}

	return &Decoder{
		students:    byEmail,
		assignments: byAlias,
		limits:      limits,
	}
}

// Decode resolves the sender and subject, extracts and normalizes the
// attached archive, and fingerprints the result. All failures are terminal
// decode errors; nothing about a malformed message is retryable.
func (d *Decoder) Decode(ctx context.Context, msg *types.RawMessage) (*types.Submission, error) {
	_, span := tracer.Start(ctx, "Decoder.Decode",
		trace.WithAttributes(
			attribute.String("message.id", msg.MessageID),
			attribute.String("message.from", msg.From),
			attribute.String("message.subject", msg.Subject),
		),
	)
	defer span.End()

	student, err := d.resolveStudent(msg.From)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve sender")

		return nil, err
	}

	assignmentID, err := d.resolveAssignment(msg.Subject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve assignment")

		return nil, err
	}

	if len(msg.Archive) == 0 {
		err := gradeerrors.DecodeErrorf("message %q carries no archive", msg.MessageID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing archive")

		return nil, err
	}

	files, err := extractArchive(msg.Archive, d.limits)
	if err != nil {
		err = gradeerrors.DecodeErrorWrap(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to extract archive")

		return nil, err
	}
	files = stripCommonRoot(files)

	submission := &types.Submission{
		StudentID:    student.ID,
		StudentName:  student.Name,
		StudentEmail: student.Email,
		AssignmentID: assignmentID,
		Language:     identifier.Dominant(files),
		Fingerprint:  Fingerprint(student.ID, assignmentID, files),
		ReceivedAt:   msg.ReceivedAt,
		Files:        files,
	}

	span.SetAttributes(
		attribute.String("submission.student_id", submission.StudentID),
		attribute.String("submission.assignment_id", submission.AssignmentID),
		attribute.String("submission.fingerprint", submission.Fingerprint),
		attribute.Int("submission.files", len(submission.Files)),
	)
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "decoded submission")

	return submission, nil
}

func (d *Decoder) resolveStudent(from string) (Student, error) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return Student{}, gradeerrors.DecodeErrorf("unparseable sender %q", from)
	}

	student, ok := d.students[strings.ToLower(addr.Address)]
	if !ok {
		return Student{}, gradeerrors.DecodeErrorf("sender %q is not on the roster", addr.Address)
	}

	return student, nil
}

// resolveAssignment matches the first subject token against assignment ids
// and aliases. Students decorate subjects freely, so surrounding punctuation
// is ignored but the token itself must match exactly.
func (d *Decoder) resolveAssignment(subject string) (string, error) {
	fields := strings.Fields(subject)
	if len(fields) == 0 {
		return "", gradeerrors.DecodeErrorf("empty subject")
	}

	token := strings.Trim(fields[0], "[](){}<>:;,.\"'")
	id, ok := d.assignments[strings.ToLower(token)]
	if !ok {
		return "", gradeerrors.DecodeErrorf("subject %q does not name a known assignment", subject)
	}

	return id, nil
}
