package audit

import (
	"github.com/classgrade/gradepipe/internal/types"
)

var schemaVersion = "0.1.0"
var logContext = "audit"

type Disposition string

const (
	DispositionNeutral Disposition = "neutral"
	DispositionGood    Disposition = "good"
	DispositionBad     Disposition = "bad"
)

type FileArchivedEntity string

const (
	EntityMessage    FileArchivedEntity = "message"
	EntitySubmission FileArchivedEntity = "submission"
)

type EventType string

const (
	EvtMessageReceived     EventType = "message_received"
	EvtMessageRejected     EventType = "message_rejected"
	EvtSubmissionDecoded   EventType = "submission_decoded"
	EvtSubmissionDuplicate EventType = "submission_duplicate"
	EvtFileArchived        EventType = "file_archived"
	EvtVerdictRecorded     EventType = "verdict_recorded"
	EvtResultDispatched    EventType = "result_dispatched"
	EvtAttentionRaised     EventType = "attention_raised"
	EvtAttentionResolved   EventType = "attention_resolved"
)

type Message struct {
	StudentID     *string     `json:"student_id"`
	AssignmentID  *string     `json:"assignment_id"`
	LogContext    string      `json:"log_context" validate:"required"`
	SchemaVersion string      `json:"version"     validate:"required"`
	CourseID      string      `json:"course_id"   validate:"required"`
	Disposition   Disposition `json:"disposition" validate:"required"`
	Type          EventType   `json:"event_type"  validate:"required"`

	Timestamp types.UnixMilli `json:"timestamp" validate:"required"`
}

type MessageReceivedEvent struct {
	MessageID string `json:"message_id" validate:"required"`
	From      string `json:"from"       validate:"required"`
	Subject   string `json:"subject"`
}

type MessageReceived struct {
	Event MessageReceivedEvent `json:"event" validate:"required"`
	Message
}

type MessageRejectedEvent struct {
	MessageID string `json:"message_id" validate:"required"`
	Stage     string `json:"stage"      validate:"required"`
	Reason    string `json:"reason"     validate:"required"`
}

type MessageRejected struct {
	Event MessageRejectedEvent `json:"event" validate:"required"`
	Message
}

type SubmissionDecodedEvent struct {
	Fingerprint  string `json:"fingerprint"   validate:"required"`
	MessageID    string `json:"message_id"    validate:"required"`
	FileCount    int    `json:"file_count"    validate:"required"`
	PayloadBytes int64  `json:"payload_bytes" validate:"required"`
	Language     string `json:"language"`
}

type SubmissionDecoded struct {
	Message
	Event SubmissionDecodedEvent `json:"event" validate:"required"`
}

type SubmissionDuplicateEvent struct {
	Fingerprint string `json:"fingerprint" validate:"required"`
	MessageID   string `json:"message_id"  validate:"required"`
}

type SubmissionDuplicate struct {
	Event SubmissionDuplicateEvent `json:"event" validate:"required"`
	Message
}

type FileArchivedEvent struct {
	BucketName string             `json:"bucket_name" validate:"required"`
	ObjectName string             `json:"object_name" validate:"required"`
	SHA256     string             `json:"sha256"      validate:"required"`
	Entity     FileArchivedEntity `json:"entity"      validate:"required"`
	EntityID   string             `json:"entity_id"   validate:"required"`
}

type FileArchived struct {
	Event FileArchivedEvent `json:"event" validate:"required"`
	Message
}

type VerdictRecordedEvent struct {
	Fingerprint string              `json:"fingerprint" validate:"required"`
	Status      types.VerdictStatus `json:"status"      validate:"required"`
	Reason      types.ErrorReason   `json:"reason,omitempty"`
	FailedStep  string              `json:"failed_step,omitempty"`
	Attempts    int                 `json:"attempts"    validate:"required"`
}

type VerdictRecorded struct {
	Message
	Event VerdictRecordedEvent `json:"event" validate:"required"`
}

type ResultDispatchedEvent struct {
	Fingerprint    string `json:"fingerprint" validate:"required"`
	Target         string `json:"target"      validate:"required"`
	Branch         string `json:"branch"      validate:"required"`
	CommitSHA      string `json:"commit_sha"  validate:"required"`
	PullRequestURL string `json:"pull_request_url,omitempty"`
}

type ResultDispatched struct {
	Message
	Event ResultDispatchedEvent `json:"event" validate:"required"`
}

type AttentionRaisedEvent struct {
	Stage       string  `json:"stage"  validate:"required"`
	Detail      string  `json:"detail" validate:"required"`
	Fingerprint *string `json:"fingerprint"`
	MessageID   string  `json:"message_id"`
}

type AttentionRaised struct {
	Event AttentionRaisedEvent `json:"event" validate:"required"`
	Message
}

type AttentionResolvedEvent struct {
	AttentionID string `json:"attention_id" validate:"required"`
	Stage       string `json:"stage"        validate:"required"`
}

type AttentionResolved struct {
	Event AttentionResolvedEvent `json:"event" validate:"required"`
	Message
}
