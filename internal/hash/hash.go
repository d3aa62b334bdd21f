package hash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/classgrade/gradepipe/internal/hash")

// Reader hashes everything remaining in data with SHA-256 and returns the
// lowercase hex digest.
func Reader(ctx context.Context, data io.Reader) (string, error) {
	_, span := tracer.Start(ctx, "hash.Reader")
	defer span.End()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash data")
		return "", fmt.Errorf("failed to hash data: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "hashed data")
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Buffer hashes data with SHA-256 and returns the lowercase hex digest.
func Buffer(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
