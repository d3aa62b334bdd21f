package audit

import (
	"encoding/json"
	"fmt"

	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/types"
)

// Context carries the identity fields every audit line shares. Student and
// assignment stay nil until a message has been decoded far enough to know
// them.
type Context struct {
	StudentID    *string
	AssignmentID *string
	CourseID     string
}

func dispForVerdict(status types.VerdictStatus) Disposition {
	switch status {
	case types.VerdictStatusPassed:
		return DispositionGood
	case types.VerdictStatusFailed:
		return DispositionBad
	case types.VerdictStatusError:
		return DispositionBad
	default:
		return DispositionNeutral
	}
}

func LogMessageReceived(c Context, messageID string, from string, subject string) {
	event := MessageReceived{}
	event.Type = EvtMessageReceived

	event.LogContext = logContext
	event.SchemaVersion = schemaVersion

	event.Timestamp = types.NowUnixMilli()
	event.CourseID = c.CourseID
	event.StudentID = c.StudentID
	event.AssignmentID = c.AssignmentID

	event.Disposition = DispositionNeutral

	event.Event.MessageID = messageID
	event.Event.From = from
	event.Event.Subject = subject

	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error(
			"could not serialize MessageReceived event",
			"messageID",
			messageID,
			"from",
			from,
			"subject",
			subject,
		)
		return
	}

	// TODO: should this go to stderr?
	fmt.Println(string(evtStr))
}

func LogMessageRejected(c Context, messageID string, stage string, reason string) {
	event := MessageRejected{}
	event.Type = EvtMessageRejected

	event.LogContext = logContext
	event.SchemaVersion = schemaVersion

	event.Timestamp = types.NowUnixMilli()
	event.CourseID = c.CourseID
	event.StudentID = c.StudentID
	event.AssignmentID = c.AssignmentID

	event.Disposition = DispositionBad

	event.Event.MessageID = messageID
	event.Event.Stage = stage
	event.Event.Reason = reason

	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error(
			"could not serialize MessageRejected event",
			"messageID",
			messageID,
			"stage",
			stage,
			"reason",
			reason,
		)
		return
	}

	// TODO: should this go to stderr?
	fmt.Println(string(evtStr))
}

func LogSubmissionDecoded(
	c Context,
	fingerprint string,
	messageID string,
	fileCount int,
	payloadBytes int64,
	language string,
) {
	event := SubmissionDecoded{}
	event.Type = EvtSubmissionDecoded

	event.LogContext = logContext
	event.SchemaVersion = schemaVersion

	event.Timestamp = types.NowUnixMilli()
	event.CourseID = c.CourseID
	event.StudentID = c.StudentID
	event.AssignmentID = c.AssignmentID

	event.Disposition = DispositionNeutral

	event.Event.Fingerprint = fingerprint
	event.Event.MessageID = messageID
	event.Event.FileCount = fileCount
	event.Event.PayloadBytes = payloadBytes
	event.Event.Language = language

	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error(
			"could not serialize SubmissionDecoded event",
			"fingerprint",
			fingerprint,
			"messageID",
			messageID,
			"fileCount",
			fileCount,
			"payloadBytes",
			payloadBytes,
		)
		return
	}

	// TODO: should this go to stderr?
	fmt.Println(string(evtStr))
}

func LogSubmissionDuplicate(c Context, fingerprint string, messageID string) {
	event := SubmissionDuplicate{}
	event.Type = EvtSubmissionDuplicate

	event.LogContext = logContext
	event.SchemaVersion = schemaVersion

	event.Timestamp = types.NowUnixMilli()
	event.CourseID = c.CourseID
	event.StudentID = c.StudentID
	event.AssignmentID = c.AssignmentID

	event.Disposition = DispositionNeutral

	event.Event.Fingerprint = fingerprint
	event.Event.MessageID = messageID

	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error(
			"could not serialize SubmissionDuplicate event",
			"fingerprint",
			fingerprint,
			"messageID",
			messageID,
		)
		return
	}

	// TODO: should this go to stderr?
	fmt.Println(string(evtStr))
}

func LogFileArchived(
	c Context,
	bucketName string,
	objectName string,
	sha256 string,
	entity FileArchivedEntity,
	entityID string,
) {
	event := FileArchived{}
	event.Type = EvtFileArchived

	event.LogContext = logContext
	event.SchemaVersion = schemaVersion

	event.Timestamp = types.NowUnixMilli()
	event.CourseID = c.CourseID
	event.StudentID = c.StudentID
	event.AssignmentID = c.AssignmentID

	event.Disposition = DispositionNeutral

	event.Event.BucketName = bucketName
	event.Event.ObjectName = objectName
	event.Event.SHA256 = sha256
	event.Event.Entity = entity
	event.Event.EntityID = entityID

	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error(
			"could not serialize FileArchived event",
			"bucketName",
			bucketName,
			"objectName",
			objectName,
			"sha256",
			sha256,
			"entity",
			entity,
			"entityID",
			entityID,
		)
		return
	}

	// TODO: should this go to stderr?
	fmt.Println(string(evtStr))
}

func LogVerdictRecorded(c Context, fingerprint string, verdict *types.Verdict, attempts int) {
	event := VerdictRecorded{}
	event.Type = EvtVerdictRecorded

	event.LogContext = logContext
	event.SchemaVersion = schemaVersion

	event.Timestamp = types.NowUnixMilli()
	event.CourseID = c.CourseID
	event.StudentID = c.StudentID
	event.AssignmentID = c.AssignmentID

	event.Disposition = dispForVerdict(verdict.Status)

	event.Event.Fingerprint = fingerprint
	event.Event.Status = verdict.Status
	event.Event.Reason = verdict.Reason
	event.Event.FailedStep = verdict.FailedStep
	event.Event.Attempts = attempts

	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error(
			"could not serialize VerdictRecorded event",
			"fingerprint",
			fingerprint,
			"status",
			verdict.Status,
			"attempts",
			attempts,
		)
		return
	}

	// TODO: should this go to stderr?
	fmt.Println(string(evtStr))
}

func LogResultDispatched(
	c Context,
	fingerprint string,
	target string,
	branch string,
	commitSHA string,
	pullRequestURL string,
) {
	event := ResultDispatched{}
	event.Type = EvtResultDispatched

	event.LogContext = logContext
	event.SchemaVersion = schemaVersion

	event.Timestamp = types.NowUnixMilli()
	event.CourseID = c.CourseID
	event.StudentID = c.StudentID
	event.AssignmentID = c.AssignmentID

	event.Disposition = DispositionGood

	event.Event.Fingerprint = fingerprint
	event.Event.Target = target
	event.Event.Branch = branch
	event.Event.CommitSHA = commitSHA
	event.Event.PullRequestURL = pullRequestURL

	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error(
			"could not serialize ResultDispatched event",
			"fingerprint",
			fingerprint,
			"target",
			target,
			"branch",
			branch,
			"commitSHA",
			commitSHA,
		)
		return
	}

	// TODO: should this go to stderr?
	fmt.Println(string(evtStr))
}

func LogAttentionRaised(
	c Context,
	stage string,
	detail string,
	fingerprint *string,
	messageID string,
) {
	event := AttentionRaised{}
	event.Type = EvtAttentionRaised

	event.LogContext = logContext
	event.SchemaVersion = schemaVersion

	event.Timestamp = types.NowUnixMilli()
	event.CourseID = c.CourseID
	event.StudentID = c.StudentID
	event.AssignmentID = c.AssignmentID

	event.Disposition = DispositionBad

	event.Event.Stage = stage
	event.Event.Detail = detail
	event.Event.Fingerprint = fingerprint
	event.Event.MessageID = messageID

	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error(
			"could not serialize AttentionRaised event",
			"stage",
			stage,
			"detail",
			detail,
			"messageID",
			messageID,
		)
		return
	}

	// TODO: should this go to stderr?
	fmt.Println(string(evtStr))
}

func LogAttentionResolved(c Context, attentionID string, stage string) {
	event := AttentionResolved{}
	event.Type = EvtAttentionResolved

	event.LogContext = logContext
	event.SchemaVersion = schemaVersion

	event.Timestamp = types.NowUnixMilli()
	event.CourseID = c.CourseID
	event.StudentID = c.StudentID
	event.AssignmentID = c.AssignmentID

	event.Disposition = DispositionNeutral

	event.Event.AttentionID = attentionID
	event.Event.Stage = stage

	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error(
			"could not serialize AttentionResolved event",
			"attentionID",
			attentionID,
			"stage",
			stage,
		)
		return
	}

	// TODO: should this go to stderr?
	fmt.Println(string(evtStr))
}
