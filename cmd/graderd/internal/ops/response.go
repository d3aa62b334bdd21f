package ops

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/classgrade/gradepipe/internal/models"
	"github.com/classgrade/gradepipe/internal/types"
)

var (
	internalServerError = echo.NewHTTPError(
		http.StatusInternalServerError,
		types.StringError("something went wrong"),
	)
	notFoundError = echo.NewHTTPError(http.StatusNotFound, types.StringError("not found"))

	errTypeAssertMismatch = errors.New("failed to convert type when fetching from context")
)

type PingResponse struct {
	Status string `json:"status"`
}

type AttentionItemResponse struct {
	ID          string  `json:"id"`
	Fingerprint *string `json:"fingerprint,omitempty"`
	MessageID   string  `json:"message_id,omitempty"`
	Stage       string  `json:"stage"`
	Detail      string  `json:"detail"`
	Resolved    bool    `json:"resolved"`
	RaisedAt    string  `json:"raised_at"`
}

func attentionItemResponse(item *models.AttentionItem) AttentionItemResponse {
	resp := AttentionItemResponse{
		ID:        item.ID.String(),
		MessageID: item.MessageID,
		Stage:     item.Stage,
		Detail:    item.Detail,
		Resolved:  item.Resolved.Valid && item.Resolved.V,
		RaisedAt:  item.CreatedAt.UTC().Format(time.RFC3339),
	}
	resp.Fingerprint = models.PtrFromNull(item.Fingerprint)

	return resp
}

type SubmissionResponse struct {
	Fingerprint  string `json:"fingerprint"`
	StudentID    string `json:"student_id"`
	AssignmentID string `json:"assignment_id"`
	Language     string `json:"language,omitempty"`
	State        string `json:"state"`
	FileCount    int    `json:"file_count"`
	PayloadBytes int64  `json:"payload_bytes"`
	ReceivedAt   string `json:"received_at"`
}

type VerdictResponse struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	FailedStep string `json:"failed_step,omitempty"`
	Output     string `json:"output,omitempty"`
	Attempts   int    `json:"attempts"`
}

type DeliveryResponse struct {
	Target         string  `json:"target"`
	Branch         string  `json:"branch"`
	CommitSHA      string  `json:"commit_sha"`
	PullRequestURL *string `json:"pull_request_url,omitempty"`
}

// SubmissionStatusResponse is everything the pipeline knows about one
// fingerprint. Verdict and delivery stay null until those stages ran.
type SubmissionStatusResponse struct {
	Submission SubmissionResponse `json:"submission"`
	Verdict    *VerdictResponse   `json:"verdict,omitempty"`
	Delivery   *DeliveryResponse  `json:"delivery,omitempty"`
}

type ReplayResponse struct {
	MessageID string `json:"message_id"`
}
