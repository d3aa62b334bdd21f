package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AttentionItem is one failure an operator has to look at. Decode failures
// carry no fingerprint because nothing canonical was ever derived from the
// message.
type AttentionItem struct {
	Model
	Fingerprint datatypes.Null[string]
	MessageID   string
	Stage       string `gorm:"type:text"`
	Detail      string
	Resolved    datatypes.Null[bool]
}

const (
	AttentionStageDecode   string = "decode"
	AttentionStageSandbox  string = "sandbox"
	AttentionStageRecord   string = "record"
	AttentionStageDispatch string = "dispatch"
)

func (AttentionItem) TableName() string {
	return "attention_item"
}

func (a AttentionItem) GetID() uuid.UUID {
	return a.ID
}
