package types

import "time"

// RawMessage is the decoder's input contract: the submission archive plus the
// identifying metadata the mail collaborator extracted. Nothing in it depends
// on how the message was transported.
type RawMessage struct {
	MessageID  string
	From       string
	Subject    string
	ReceivedAt time.Time
	Archive    []byte
}

// SubmissionFile is one entry of the canonical payload. Paths are
// slash-separated and relative to the payload root.
type SubmissionFile struct {
	Path string
	Data []byte
}

// Submission is a decoded, content-addressed hand-in. Fingerprint depends
// only on student, assignment and file contents, never on archive packing.
type Submission struct {
	StudentID    string
	StudentName  string
	StudentEmail string
	AssignmentID string
	Language     string
	Fingerprint  string
	ReceivedAt   time.Time
	Files        []SubmissionFile
}

// PayloadBytes is the total size of the canonical payload.
func (s *Submission) PayloadBytes() int64 {
	var total int64
	for _, f := range s.Files {
		total += int64(len(f.Data))
	}
	return total
}

// ShortFingerprint is the abbreviated form used in log lines, commit
// messages and branch names.
func (s *Submission) ShortFingerprint() string {
	if len(s.Fingerprint) <= 12 {
		return s.Fingerprint
	}
	return s.Fingerprint[:12]
}
