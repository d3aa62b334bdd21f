package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DeliveryRecord marks one passing submission as pushed to its target. The
// unique fingerprint makes redelivery a no-op however often the pipeline
// replays the message.
type DeliveryRecord struct {
	Model
	Fingerprint    string `gorm:"uniqueIndex"`
	Target         string
	Branch         string
	CommitSHA      string
	PullRequestURL datatypes.Null[string]
}

func (DeliveryRecord) TableName() string {
	return "delivery"
}

func (d DeliveryRecord) GetID() uuid.UUID {
	return d.ID
}
