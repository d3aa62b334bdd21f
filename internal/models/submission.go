package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/classgrade/gradepipe/internal/types"
)

// SubmissionRecord is the durable identity of one decoded submission. The
// fingerprint is the dedupe key; two rows never share one.
type SubmissionRecord struct {
	Model
	Fingerprint  string              `gorm:"uniqueIndex"`
	StudentID    string
	StudentName  string
	StudentEmail string
	AssignmentID string
	Language     string
	ArchiveKey   string
	State        types.PipelineState `gorm:"type:text;default:'received'"`
	MessageID    string
	PayloadBytes int64
	FileCount    int
	ReceivedAt   time.Time
}

func (SubmissionRecord) TableName() string {
	return "submission"
}

func (s SubmissionRecord) GetID() uuid.UUID {
	return s.ID
}
