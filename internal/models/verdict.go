package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/classgrade/gradepipe/internal/types"
)

// VerdictRecord is the append-only outcome of grading one submission. At most
// one row exists per fingerprint; a rerun of the same fingerprint reuses it.
type VerdictRecord struct {
	Usage types.ResourceUsage `gorm:"type:jsonb;serializer:json"`
	Model
	Fingerprint    string                   `gorm:"uniqueIndex"`
	Status         types.VerdictStatus      `gorm:"type:text"`
	Reason         datatypes.Null[string]
	FailedStep     datatypes.Null[string]
	Output         string
	Attempts       int
	StartedAt      time.Time
	DurationMillis int64
}

func (VerdictRecord) TableName() string {
	return "verdict"
}

func (v VerdictRecord) GetID() uuid.UUID {
	return v.ID
}

// ToVerdict maps the row back into the wire shape handed to callers.
func (v *VerdictRecord) ToVerdict() *types.Verdict {
	verdict := &types.Verdict{
		Status:    v.Status,
		Output:    v.Output,
		Usage:     v.Usage,
		StartedAt: v.StartedAt,
		Duration:  time.Duration(v.DurationMillis) * time.Millisecond,
	}

	if v.Reason.Valid {
		verdict.Reason = types.ErrorReason(v.Reason.V)
	}
	if v.FailedStep.Valid {
		verdict.FailedStep = v.FailedStep.V
	}

	return verdict
}

// NewVerdictRecord maps a sandbox verdict into its row shape.
func NewVerdictRecord(fingerprint string, verdict *types.Verdict, attempts int) *VerdictRecord {
	record := &VerdictRecord{
		Fingerprint:    fingerprint,
		Status:         verdict.Status,
		Output:         verdict.Output,
		Usage:          verdict.Usage,
		Attempts:       attempts,
		StartedAt:      verdict.StartedAt,
		DurationMillis: verdict.Duration.Milliseconds(),
	}

	if verdict.Reason != "" {
		record.Reason = NewNullFromData(string(verdict.Reason))
	}
	if verdict.FailedStep != "" {
		record.FailedStep = NewNullFromData(verdict.FailedStep)
	}

	return record
}
