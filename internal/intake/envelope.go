package intake

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/classgrade/gradepipe/internal/fetch"
	"github.com/classgrade/gradepipe/internal/types"
	"github.com/classgrade/gradepipe/internal/validator"
)

//go:embed envelope.schema.json
var envelopeSchemaJSON string

var envelopeSchema = jsonschema.MustCompileString(
	"envelope.schema.json",
	envelopeSchemaJSON,
)

// Envelope is the queue wire format the mail collaborator produces for every
// inbound message. The archive travels inline for small hand-ins and by URL
// reference for everything else; exactly one of the two forms must be set.
type Envelope struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
	ArchiveB64 string    `json:"archive_b64,omitempty"`
	ArchiveURL string    `json:"archive_url,omitempty"`
}

// ParseEnvelope validates raw queue bytes against the envelope schema before
// decoding them. Validation failures are permanent: callers should poison the
// message instead of retrying it.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var loose any
	if err := json.Unmarshal(data, &loose); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	err := envelopeSchema.Validate(loose)
	if validationErr, ok := err.(*jsonschema.ValidationError); ok {
		causes := validationErr.BasicOutput().Errors
		if len(causes) > 0 {
			last := causes[len(causes)-1]
			return nil, fmt.Errorf("validating envelope: %s: %s", last.KeywordLocation, last.Error)
		}
		return nil, fmt.Errorf("validating envelope: %w", err)
	} else if err != nil {
		return nil, fmt.Errorf("validating envelope: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	return &env, nil
}

// Archive materializes the submission payload, decoding the inline form or
// fetching the referenced one. maxBytes bounds both forms.
func (e *Envelope) Archive(
	ctx context.Context,
	fetcher fetch.Fetcher,
	maxBytes int,
) ([]byte, error) {
	if e.ArchiveB64 != "" {
		if !validator.ValidateArchiveSize(len(e.ArchiveB64), maxBytes) {
			return nil, fmt.Errorf("inline archive exceeds %d bytes", maxBytes)
		}

		data, err := base64.StdEncoding.DecodeString(e.ArchiveB64)
		if err != nil {
			return nil, fmt.Errorf("decoding inline archive: %w", err)
		}

		return data, nil
	}

	body, err := fetcher.Fetch(ctx, e.ArchiveURL)
	if err != nil {
		return nil, fmt.Errorf("fetching archive: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, int64(maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	if len(data) > maxBytes {
		return nil, fmt.Errorf("fetched archive exceeds %d bytes", maxBytes)
	}

	return data, nil
}

// RawMessage binds the envelope metadata to its materialized archive.
// fallback replaces a missing receive timestamp.
func (e *Envelope) RawMessage(archive []byte, fallback time.Time) *types.RawMessage {
	received := e.ReceivedAt
	if received.IsZero() {
		received = fallback
	}

	return &types.RawMessage{
		MessageID:  e.MessageID,
		From:       e.From,
		Subject:    e.Subject,
		ReceivedAt: received,
		Archive:    archive,
	}
}
