package decode

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"github.com/classgrade/gradepipe/internal/types"
)

// fingerprintDomain versions the framing. Bump it and every stored
// fingerprint is invalidated, so only change it together with a migration.
const fingerprintDomain = "gradepipe.submission.v1"

// Fingerprint derives the content address of a submission from who sent it,
// which assignment it targets, and the canonical payload. Every field is
// length framed before hashing so no two distinct inputs can collide by
// concatenation, and files are hashed in sorted path order so the result does
// not depend on archive entry ordering.
func Fingerprint(studentID string, assignmentID string, files []types.SubmissionFile) string {
	sorted := make([]types.SubmissionFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	digest := sha256.New()
	writeFrame(digest, []byte(fingerprintDomain))
	writeFrame(digest, []byte(studentID))
	writeFrame(digest, []byte(assignmentID))
	for _, f := range sorted {
		writeFrame(digest, []byte(f.Path))
		writeFrame(digest, f.Data)
	}

	return hex.EncodeToString(digest.Sum(nil))
}

func writeFrame(digest hash.Hash, data []byte) {
	var frame [8]byte
	binary.BigEndian.PutUint64(frame[:], uint64(len(data)))
	digest.Write(frame[:])
	digest.Write(data)
}
