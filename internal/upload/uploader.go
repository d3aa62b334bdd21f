package upload

import (
	"bytes"
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/classgrade/gradepipe/internal/hash"
)

var tracer = otel.Tracer(
	"github.com/classgrade/gradepipe/internal/upload",
)

//go:generate mockgen -destination ./mock/mock.go -package mock . Uploader

// Uploader persists raw submission archives so a verdict can always be
// re-derived from what the student actually sent.
type Uploader interface {
	// Create / Overwrite object contents by `key`
	Upload(ctx context.Context, reader io.ReadSeeker, length int64, key string) error
	// Check if an object exists (used to skip re-uploading identical archives,
	// not authoritative existence)
	//
	// May always return false
	Exists(ctx context.Context, key string) (bool, error)
	// Provide an identifier for where objects are being stored. Useful for
	// logging and auditing purposes.
	StoreIdentifier(ctx context.Context) (string, error)
	// Anonymous, readonly URL for downloading the object
	PresignedReadURL(ctx context.Context, key string, duration time.Duration) (string, error)
}

// Hashed uploads a buffer where the key is the hash of the contents (CAS).
// Two students mailing byte-identical archives share one stored object.
//
// Will:
// 1. seek to 0 so only pass in a buffer you want completely uploaded
// 2. not upload if an object with the same hash already exists
func Hashed(
	ctx context.Context,
	u Uploader,
	reader io.ReadSeeker,
	length int64,
) (string, error) {
	ctx, span := tracer.Start(ctx, "UploadHashed")
	defer span.End()

	_, err := reader.Seek(0, io.SeekStart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to seek to start")
		return "", err
	}

	hashedContent, err := hash.Reader(ctx, reader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash reader")
		return "", err
	}

	exists, err := u.Exists(ctx, hashedContent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check if object exists")
		return "", err
	}

	if exists {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "found existing object")
		return hashedContent, nil
	}

	_, err = reader.Seek(0, io.SeekStart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to seek to start")
		return "", err
	}

	err = u.Upload(ctx, reader, length, hashedContent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload object")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "uploaded object by hash")
	return hashedContent, nil
}

// HashedBytes uploads an in-memory archive by content hash.
func HashedBytes(ctx context.Context, u Uploader, data []byte) (string, error) {
	return Hashed(ctx, u, bytes.NewReader(data), int64(len(data)))
}
